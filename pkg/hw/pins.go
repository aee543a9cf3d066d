package hw

import "sync"

// DutyWriter applies a PWM duty cycle (0.0-1.0) to hardware.
type DutyWriter interface {
	Configure(cycleTime float64, hardwarePWM bool) error
	SetDuty(duty float64) error
	Close() error
}

// LevelWriter drives a digital output line.
type LevelWriter interface {
	SetLevel(level int) error
	Close() error
}

// PulseSource counts pulses on an input line.
type PulseSource interface {
	Count() uint64
	Close() error
}

// PWMPin is a scheduled PWM output. Schedule calls enqueue the duty change
// on the dispatcher for the given machine time.
type PWMPin struct {
	d   *Dispatcher
	drv DutyWriter

	mu            sync.Mutex
	shutdownValue float64
}

// NewPWMPin wraps a duty writer as a scheduled PWM output.
func NewPWMPin(d *Dispatcher, drv DutyWriter) *PWMPin {
	return &PWMPin{d: d, drv: drv}
}

// Configure sets the PWM cycle time and hardware/software PWM mode.
func (p *PWMPin) Configure(cycleTime float64, hardwarePWM bool) error {
	return p.drv.Configure(cycleTime, hardwarePWM)
}

// SetInitial applies the start duty immediately and records the duty to
// apply on fault shutdown.
func (p *PWMPin) SetInitial(value, shutdownValue float64) error {
	p.mu.Lock()
	p.shutdownValue = shutdownValue
	p.mu.Unlock()
	return p.drv.SetDuty(value)
}

// Schedule enqueues a duty change for the given machine time.
func (p *PWMPin) Schedule(printTime, duty float64) {
	p.d.Schedule(printTime, func() error {
		return p.drv.SetDuty(duty)
	})
}

// ApplyShutdown forces the configured shutdown duty immediately,
// bypassing the queue. Called on fatal fault.
func (p *PWMPin) ApplyShutdown() error {
	p.mu.Lock()
	v := p.shutdownValue
	p.mu.Unlock()
	return p.drv.SetDuty(v)
}

// Close releases the underlying hardware.
func (p *PWMPin) Close() error { return p.drv.Close() }

// DigitalPin is a scheduled digital output.
type DigitalPin struct {
	d   *Dispatcher
	drv LevelWriter
}

// NewDigitalPin wraps a level writer as a scheduled digital output.
func NewDigitalPin(d *Dispatcher, drv LevelWriter) *DigitalPin {
	return &DigitalPin{d: d, drv: drv}
}

// Schedule enqueues a level change for the given machine time.
func (p *DigitalPin) Schedule(printTime float64, level int) {
	p.d.Schedule(printTime, func() error {
		return p.drv.SetLevel(level)
	})
}

// Close releases the underlying hardware.
func (p *DigitalPin) Close() error { return p.drv.Close() }

// FrequencyCounter derives a pulse frequency from a PulseSource by
// differencing counts across sample windows.
type FrequencyCounter struct {
	src PulseSource

	mu        sync.Mutex
	lastTime  float64
	lastCount uint64
	haveLast  bool
	freq      float64
}

// NewFrequencyCounter wraps a pulse source.
func NewFrequencyCounter(src PulseSource) *FrequencyCounter {
	return &FrequencyCounter{src: src}
}

// Update recomputes the frequency from the pulses seen since the previous
// Update and returns it. The first call only primes the window.
func (c *FrequencyCounter) Update(now float64) float64 {
	count := c.src.Count()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveLast {
		dt := now - c.lastTime
		if dt > 0 {
			c.freq = float64(count-c.lastCount) / dt
		} else {
			c.freq = 0
		}
	}
	c.lastTime = now
	c.lastCount = count
	c.haveLast = true
	return c.freq
}

// Frequency returns the most recently computed frequency in pulses/second.
func (c *FrequencyCounter) Frequency() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freq
}

// Close releases the underlying pulse source.
func (c *FrequencyCounter) Close() error { return c.src.Close() }
