package hw

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Opener creates hardware drivers from config pin names.
type Opener interface {
	OpenPWM(pin string) (DutyWriter, error)
	OpenDigital(pin string) (LevelWriter, error)
	// OpenPulse opens a pulse-counting input. debounce is the minimum pulse
	// width in seconds; zero disables filtering.
	OpenPulse(pin string, debounce float64) (PulseSource, error)
}

// SystemOpener opens real hardware: sysfs PWM channels and GPIO character
// device lines. PWM pins are named "pwm<channel>" (e.g. "pwm0"); digital and
// tachometer pins use kernel line names (e.g. "GPIO23").
type SystemOpener struct {
	// Chip is the GPIO chip device path. Empty means probe all chips.
	Chip string
}

func (o *SystemOpener) OpenPWM(pin string) (DutyWriter, error) {
	channel, err := strconv.Atoi(strings.TrimPrefix(pin, "pwm"))
	if err != nil {
		return nil, fmt.Errorf("hw: pwm pin %q: want pwm<channel>", pin)
	}
	return OpenSysfsPWM(channel)
}

func (o *SystemOpener) OpenDigital(pin string) (LevelWriter, error) {
	return OpenGPIOOutput(o.Chip, pin)
}

func (o *SystemOpener) OpenPulse(pin string, debounce float64) (PulseSource, error) {
	return OpenGPIOPulseCounter(o.Chip, pin, time.Duration(debounce*float64(time.Second)))
}

// SimOpener opens simulated drivers, for running without hardware.
type SimOpener struct {
	Log *zap.Logger
}

func (o *SimOpener) OpenPWM(pin string) (DutyWriter, error) {
	return NewSimPWM(o.Log), nil
}

func (o *SimOpener) OpenDigital(pin string) (LevelWriter, error) {
	return NewSimDigital(o.Log), nil
}

func (o *SimOpener) OpenPulse(pin string, debounce float64) (PulseSource, error) {
	return &SimPulse{}, nil
}
