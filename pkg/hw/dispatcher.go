package hw

import (
	"go.uber.org/zap"

	"coolctl/pkg/reactor"
)

// Dispatcher drains the scheduled command queue on the reactor. Components
// call Schedule; the dispatcher applies each command when its scheduled time
// arrives. Apply errors are logged, not propagated: by the time a command is
// due, its issuer has long since returned.
type Dispatcher struct {
	q     *Queue
	r     *reactor.Reactor
	timer *reactor.Timer
	log   *zap.Logger
}

// NewDispatcher creates a dispatcher and registers its drain timer.
func NewDispatcher(r *reactor.Reactor, log *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		q:   NewQueue(),
		r:   r,
		log: log,
	}
	d.timer = r.RegisterTimer(d.drain, reactor.Never)
	return d
}

// Schedule enqueues apply to run at the given machine time.
func (d *Dispatcher) Schedule(time float64, apply func() error) {
	d.q.Push(time, apply)
	if next, ok := d.q.NextTime(); ok {
		d.r.UpdateTimer(d.timer, next)
	}
}

// Pending returns the number of commands not yet applied.
func (d *Dispatcher) Pending() int {
	return d.q.Len()
}

// Flush immediately applies every pending command regardless of its
// scheduled time. Used on fault shutdown so queued duty changes are not
// silently dropped.
func (d *Dispatcher) Flush() {
	for _, apply := range d.q.PopDue(reactor.Never) {
		if err := apply(); err != nil {
			d.log.Error("hardware command failed during flush", zap.Error(err))
		}
	}
}

func (d *Dispatcher) drain(eventtime float64) float64 {
	for _, apply := range d.q.PopDue(eventtime) {
		if err := apply(); err != nil {
			d.log.Error("hardware command failed", zap.Error(err))
		}
	}
	if next, ok := d.q.NextTime(); ok {
		return next
	}
	return reactor.Never
}
