// Package reactor provides the cooperative timer loop that drives all
// periodic work in the daemon: temperature sampling, tachometer polling and
// draining of scheduled hardware commands. Timers run on a single dispatch
// goroutine; other goroutines hand work over with RunInLoop.
//
// Times are monotonic seconds since reactor creation, as float64. A timer
// callback returns the time at which it wants to run next, or Never to stop.
package reactor

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// Now schedules a timer for immediate execution.
	Now = 0.0
	// Never parks a timer indefinitely.
	Never = 9999999999999999.0
)

// TimerFunc is invoked when a timer fires. It receives the event time and
// returns the next wake time (Never to stop firing).
type TimerFunc func(eventtime float64) float64

// Timer is a registered timer.
type Timer struct {
	mu       sync.Mutex
	fn       TimerFunc
	waketime float64
	firing   bool
	dead     bool
}

// Waketime returns the timer's pending wake time.
func (t *Timer) Waketime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waketime
}

// Reactor runs timers on a single dispatch goroutine.
type Reactor struct {
	mu       sync.Mutex
	timers   []*Timer
	nextWake float64

	funcs chan func(eventtime float64)
	wake  chan struct{}
	done  chan struct{}

	running atomic.Bool
	wg      sync.WaitGroup

	start time.Time
}

// New creates a stopped reactor. Call Run to start dispatching.
func New() *Reactor {
	return &Reactor{
		nextWake: Never,
		funcs:    make(chan func(float64), 256),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		start:    time.Now(),
	}
}

// Monotonic returns the current reactor time in seconds.
func (r *Reactor) Monotonic() float64 {
	return time.Since(r.start).Seconds()
}

// RegisterTimer adds a timer that first fires at waketime.
func (r *Reactor) RegisterTimer(fn TimerFunc, waketime float64) *Timer {
	t := &Timer{fn: fn, waketime: waketime}
	r.mu.Lock()
	r.timers = append(r.timers, t)
	if waketime < r.nextWake {
		r.nextWake = waketime
	}
	r.mu.Unlock()
	r.kick()
	return t
}

// UnregisterTimer permanently removes a timer.
func (r *Reactor) UnregisterTimer(t *Timer) {
	t.mu.Lock()
	t.waketime = Never
	t.dead = true
	t.mu.Unlock()

	r.mu.Lock()
	for i, x := range r.timers {
		if x == t {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
}

// UpdateTimer moves a timer's next wake time. A timer currently firing keeps
// the wake time returned by its callback instead.
func (r *Reactor) UpdateTimer(t *Timer, waketime float64) {
	t.mu.Lock()
	if t.firing || t.dead {
		t.mu.Unlock()
		return
	}
	t.waketime = waketime
	t.mu.Unlock()

	r.mu.Lock()
	if waketime < r.nextWake {
		r.nextWake = waketime
	}
	r.mu.Unlock()
	r.kick()
}

// RunInLoop hands fn to the dispatch goroutine. It is the only safe way for
// other goroutines (command handlers, API requests) to touch reactor-owned
// state. Returns false if the queue is full or the reactor has stopped.
func (r *Reactor) RunInLoop(fn func(eventtime float64)) bool {
	select {
	case <-r.done:
		return false
	case r.funcs <- fn:
		r.kick()
		return true
	default:
		return false
	}
}

// Run starts the dispatch loop.
func (r *Reactor) Run() {
	if r.running.Swap(true) {
		return
	}
	r.wg.Add(1)
	go r.dispatch()
}

// End stops the dispatch loop.
func (r *Reactor) End() {
	if r.running.Swap(false) {
		close(r.done)
	}
}

// Wait blocks until the dispatch loop has exited.
func (r *Reactor) Wait() {
	r.wg.Wait()
}

func (r *Reactor) kick() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reactor) dispatch() {
	defer r.wg.Done()

	for r.running.Load() {
		eventtime := r.Monotonic()

		r.drainFuncs(eventtime)
		delay := r.fireDue(eventtime)

		if delay <= 0 {
			continue
		}
		d := time.Duration(delay * float64(time.Second))
		if d > time.Second {
			d = time.Second
		}
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-r.wake:
			timer.Stop()
		case <-r.done:
			timer.Stop()
			return
		}
	}
}

func (r *Reactor) drainFuncs(eventtime float64) {
	for {
		select {
		case fn := <-r.funcs:
			fn(eventtime)
		default:
			return
		}
	}
}

// fireDue runs every timer whose wake time has passed and returns the delay
// until the earliest remaining timer.
func (r *Reactor) fireDue(eventtime float64) float64 {
	r.mu.Lock()
	if eventtime < r.nextWake {
		delay := r.nextWake - eventtime
		r.mu.Unlock()
		return delay
	}
	due := make([]*Timer, len(r.timers))
	copy(due, r.timers)
	r.nextWake = Never
	r.mu.Unlock()

	for _, t := range due {
		t.mu.Lock()
		if t.dead || eventtime < t.waketime {
			wt := t.waketime
			t.mu.Unlock()
			r.noteWake(wt)
			continue
		}
		t.waketime = Never
		t.firing = true
		t.mu.Unlock()

		next := t.fn(eventtime)

		t.mu.Lock()
		t.firing = false
		if !t.dead {
			t.waketime = next
		}
		wt := t.waketime
		t.mu.Unlock()
		r.noteWake(wt)
	}

	r.mu.Lock()
	delay := r.nextWake - eventtime
	r.mu.Unlock()
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (r *Reactor) noteWake(waketime float64) {
	r.mu.Lock()
	if waketime < r.nextWake {
		r.nextWake = waketime
	}
	r.mu.Unlock()
}
