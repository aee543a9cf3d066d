package hw

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// SimPWM is a duty writer with no hardware behind it. It records the last
// duty and logs changes. Used when the daemon runs without real outputs.
type SimPWM struct {
	log *zap.Logger

	mu   sync.Mutex
	duty float64
}

// NewSimPWM creates a simulated PWM output. log may be nil.
func NewSimPWM(log *zap.Logger) *SimPWM {
	if log == nil {
		log = zap.NewNop()
	}
	return &SimPWM{log: log}
}

func (s *SimPWM) Configure(cycleTime float64, hardwarePWM bool) error {
	s.log.Debug("sim pwm configured",
		zap.Float64("cycle_time", cycleTime),
		zap.Bool("hardware_pwm", hardwarePWM))
	return nil
}

func (s *SimPWM) SetDuty(duty float64) error {
	s.mu.Lock()
	s.duty = duty
	s.mu.Unlock()
	s.log.Debug("sim pwm duty", zap.Float64("duty", duty))
	return nil
}

// Duty returns the last duty written.
func (s *SimPWM) Duty() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duty
}

func (s *SimPWM) Close() error { return nil }

// SimDigital is a level writer with no hardware behind it.
type SimDigital struct {
	log *zap.Logger

	mu    sync.Mutex
	level int
}

// NewSimDigital creates a simulated digital output. log may be nil.
func NewSimDigital(log *zap.Logger) *SimDigital {
	if log == nil {
		log = zap.NewNop()
	}
	return &SimDigital{log: log}
}

func (s *SimDigital) SetLevel(level int) error {
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
	s.log.Debug("sim digital level", zap.Int("level", level))
	return nil
}

// Level returns the last level written.
func (s *SimDigital) Level() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *SimDigital) Close() error { return nil }

// SimPulse is a pulse source fed by test or simulation code.
type SimPulse struct {
	count atomic.Uint64
}

// Add records n pulses.
func (s *SimPulse) Add(n uint64) { s.count.Add(n) }

func (s *SimPulse) Count() uint64 { return s.count.Load() }

func (s *SimPulse) Close() error { return nil }
