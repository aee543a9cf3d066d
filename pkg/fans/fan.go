// Package fans implements cooling fan actuation: the duty scheduling
// pipeline, tachometer stall monitoring, temperature-regulated fans with
// watermark/pid/slope control, and the slicer-facing fan index registry.
package fans

import (
	"math"
	"sync"

	"go.uber.org/zap"
)

// Minimum spacing between scheduled fan commands. Back-to-back duty changes
// are pushed apart so the output queue never reorders.
const fanMinTime = 0.100

// PWMSink schedules a PWM duty change at a machine time.
type PWMSink interface {
	Schedule(printTime, duty float64)
}

// DigitalSink schedules a digital level change at a machine time.
type DigitalSink interface {
	Schedule(printTime float64, level int)
}

// Fan drives one PWM-controlled cooling fan.
type Fan struct {
	name     string
	log      *zap.Logger
	pwm      PWMSink
	enable   DigitalSink // nil without an enable pin
	fourWire bool

	maxPower      float64
	kickStartTime float64
	offBelow      float64
	heaters       []string

	mu        sync.Mutex
	lastValue float64 // last requested speed, unscaled
	lastTime  float64
	tach      *Tachometer
}

// NewFan creates a fan from parsed config. enable may be nil.
func NewFan(cfg *FanConfig, pwm PWMSink, enable DigitalSink, log *zap.Logger) *Fan {
	return &Fan{
		name:          cfg.Name,
		log:           log,
		pwm:           pwm,
		enable:        enable,
		fourWire:      cfg.FourWire,
		maxPower:      cfg.MaxPower,
		kickStartTime: cfg.KickStartTime,
		offBelow:      cfg.OffBelow,
		heaters:       cfg.Heaters,
	}
}

// Name returns the config section name of the fan.
func (f *Fan) Name() string { return f.name }

// Heaters returns the heater names this fan cools.
func (f *Fan) Heaters() []string { return f.heaters }

// SetTachometer attaches a stall monitor. Called during wiring.
func (f *Fan) SetTachometer(t *Tachometer) {
	f.mu.Lock()
	f.tach = t
	f.mu.Unlock()
}

// Tachometer returns the attached stall monitor, or nil.
func (f *Fan) Tachometer() *Tachometer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tach
}

// SetSpeed requests fan speed value (0.0-1.0) effective at printTime.
//
// A 3-wire fan gets its duty rescaled to 0.2+0.8*value so the PWM duty
// tracks RPM roughly linearly (the Intel 4-wire fan spec curve); a rescaled
// duty at or below 0.2 collapses to off. Identical repeated requests are
// dropped, commands are spaced at least fanMinTime apart, and a fan spinning
// up from rest (or jumping by more than 0.5 duty) first gets a full-power
// kick pulse for kickStartTime seconds.
func (f *Fan) SetSpeed(printTime, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	duty := value
	if !f.fourWire {
		duty = 0.2 + 0.8*value
		if duty <= 0.2 {
			duty = 0
		}
	}
	if value < f.offBelow {
		duty = 0
	}
	duty = math.Max(0, math.Min(f.maxPower, duty*f.maxPower))
	if value == f.lastValue {
		return
	}
	printTime = math.Max(f.lastTime+fanMinTime, printTime)
	if f.enable != nil {
		if value > 0 && f.lastValue == 0 {
			f.enable.Schedule(printTime, 1)
		} else if value == 0 && f.lastValue > 0 {
			f.enable.Schedule(printTime, 0)
		}
	}
	if duty != 0 && duty < f.maxPower && f.kickStartTime > 0 &&
		(f.lastValue == 0 || duty-f.lastValue > 0.5) {
		f.pwm.Schedule(printTime, f.maxPower)
		printTime += f.kickStartTime
	}
	f.pwm.Schedule(printTime, duty)
	f.lastTime = printTime
	// Status reports the request, not the rescaled duty.
	f.lastValue = value

	f.log.Debug("fan speed set",
		zap.String("fan", f.name),
		zap.Float64("value", value),
		zap.Float64("duty", duty),
		zap.Float64("print_time", printTime))
}

// Speed returns the last requested speed.
func (f *Fan) Speed() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastValue
}

// Status is the externally visible fan state.
type Status struct {
	Speed float64  `json:"speed"`
	RPM   *float64 `json:"rpm"`
}

// GetStatus reports the last requested speed and, when a tachometer is
// attached, the measured RPM.
func (f *Fan) GetStatus(eventtime float64) Status {
	f.mu.Lock()
	tach := f.tach
	speed := f.lastValue
	f.mu.Unlock()

	st := Status{Speed: speed}
	if tach != nil {
		rpm := tach.RPM()
		st.RPM = &rpm
	}
	return st
}
