package sensors

import (
	"sync"

	"go.uber.org/zap"

	"coolctl/pkg/reactor"
)

// Callback receives a new temperature reading and the reactor time it was
// taken at.
type Callback func(readTime, temp float64)

// Poller samples a Source on the reactor at a fixed report interval and
// forwards readings to its callback.
type Poller struct {
	src      Source
	r        *reactor.Reactor
	log      *zap.Logger
	interval float64
	timer    *reactor.Timer

	mu       sync.Mutex
	cb       Callback
	onError  func()
	last     float64
	lastTime float64
	minTemp  float64
	maxTemp  float64
	haveTemp bool
}

// NewPoller creates a poller for src. Sampling begins once Start is called
// and the reactor is running.
func NewPoller(r *reactor.Reactor, src Source, interval float64, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 1.0
	}
	p := &Poller{src: src, r: r, log: log, interval: interval}
	p.timer = r.RegisterTimer(p.poll, reactor.Never)
	return p
}

// SetCallback installs the reading callback. Must be set before Start.
func (p *Poller) SetCallback(cb Callback) {
	p.mu.Lock()
	p.cb = cb
	p.mu.Unlock()
}

// SetErrorHook installs a function called each time a read fails.
func (p *Poller) SetErrorHook(fn func()) {
	p.mu.Lock()
	p.onError = fn
	p.mu.Unlock()
}

// Start begins sampling.
func (p *Poller) Start() {
	p.r.UpdateTimer(p.timer, reactor.Now)
}

// Stop halts sampling.
func (p *Poller) Stop() {
	p.r.UnregisterTimer(p.timer)
}

// ReportInterval returns the sampling interval in seconds.
func (p *Poller) ReportInterval() float64 { return p.interval }

// SourceName returns the name of the underlying source.
func (p *Poller) SourceName() string { return p.src.Name() }

// Last returns the most recent reading and the time it was taken.
func (p *Poller) Last() (temp, readTime float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.lastTime
}

// Measured returns the lowest and highest temperatures seen so far.
func (p *Poller) Measured() (min, max float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minTemp, p.maxTemp
}

func (p *Poller) poll(eventtime float64) float64 {
	temp, err := p.src.Read()
	if err != nil {
		p.log.Warn("temperature read failed",
			zap.String("sensor", p.src.Name()), zap.Error(err))
		p.mu.Lock()
		hook := p.onError
		p.mu.Unlock()
		if hook != nil {
			hook()
		}
		return eventtime + p.interval
	}

	p.mu.Lock()
	p.last = temp
	p.lastTime = eventtime
	if !p.haveTemp || temp < p.minTemp {
		p.minTemp = temp
	}
	if !p.haveTemp || temp > p.maxTemp {
		p.maxTemp = temp
	}
	p.haveTemp = true
	cb := p.cb
	p.mu.Unlock()

	if cb != nil {
		cb(eventtime, temp)
	}
	return eventtime + p.interval
}
