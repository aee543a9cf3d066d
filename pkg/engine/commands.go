package engine

import (
	"fmt"
	"math"

	"coolctl/pkg/fans"
	"coolctl/pkg/metrics"
)

func (e *Engine) countCommand(name string) {
	if e.metrics != nil {
		e.metrics.CommandsTotal.Inc(metrics.Labels{"command": name})
	}
}

// errShutdown guards every actuation command after a fault.
func (e *Engine) checkRunning() error {
	if e.coord.IsShutdown() {
		return fmt.Errorf("machine is shutdown: %s", e.coord.Message())
	}
	return nil
}

// SetFanSpeed handles SET_FAN_SPEED FAN=<name> SPEED=<speed>.
func (e *Engine) SetFanSpeed(name string, speed float64) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	f, ok := e.genericFans[name]
	if !ok {
		return fmt.Errorf("unknown fan %q", name)
	}
	e.countCommand("set_fan_speed")
	f.SetSpeed(e.reactor.Monotonic(), speed)
	return nil
}

// M106 handles the fan-on command. index selects the fan number (default
// 0, the primary [fan]); s is the S parameter. An S value strictly between
// 0 and 1 is taken as a fraction directly, anything else as 0-255.
func (e *Engine) M106(index *int, s *float64) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	f, err := e.lookupIndexed(index)
	if err != nil {
		return err
	}
	value := 255.0
	if s != nil {
		value = *s
	}
	if value < 0 {
		return fmt.Errorf("invalid fan speed %v", value)
	}
	if !(value > 0 && value < 1) {
		value = math.Min(1, value/255.0)
	}
	e.countCommand("m106")
	f.SetSpeed(e.reactor.Monotonic(), value)
	return nil
}

// M107 turns the selected fan off.
func (e *Engine) M107(index *int) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	f, err := e.lookupIndexed(index)
	if err != nil {
		return err
	}
	e.countCommand("m107")
	f.SetSpeed(e.reactor.Monotonic(), 0)
	return nil
}

func (e *Engine) lookupIndexed(index *int) (*fans.Fan, error) {
	n := 0
	if index != nil {
		n = *index
	}
	f, ok := e.registry.Get(n)
	if !ok {
		return nil, fmt.Errorf("T%d is an invalid fan number", n)
	}
	return f, nil
}

// SetTemperatureFanTarget handles SET_TEMPERATURE_FAN_TARGET. All
// parameters are validated before any of them is applied.
func (e *Engine) SetTemperatureFanTarget(name string, p fans.AdjustParams) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	tf, ok := e.tempFans[name]
	if !ok {
		return fmt.Errorf("unknown temperature fan %q", name)
	}
	e.countCommand("set_temperature_fan_target")
	return tf.Adjust(p)
}

// StatusReport aggregates the state of every component.
type StatusReport struct {
	State    string                        `json:"state"`
	Message  string                        `json:"message,omitempty"`
	Fan      *fans.Status                  `json:"fan,omitempty"`
	Fans     map[string]fans.Status        `json:"fans,omitempty"`
	TempFans map[string]fans.TempFanStatus `json:"temperature_fans,omitempty"`
}

// Status returns the aggregated machine status.
func (e *Engine) Status() StatusReport {
	now := e.reactor.Monotonic()
	rep := StatusReport{
		State:   string(e.coord.State()),
		Message: e.coord.Message(),
	}
	if e.primary != nil {
		st := e.primary.GetStatus(now)
		rep.Fan = &st
	}
	if len(e.genericFans) > 0 {
		rep.Fans = make(map[string]fans.Status, len(e.genericFans))
		for name, f := range e.genericFans {
			rep.Fans[name] = f.GetStatus(now)
		}
	}
	if len(e.tempFans) > 0 {
		rep.TempFans = make(map[string]fans.TempFanStatus, len(e.tempFans))
		for name, tf := range e.tempFans {
			rep.TempFans[name] = tf.GetStatus(now)
		}
	}
	return rep
}
