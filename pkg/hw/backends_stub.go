//go:build !linux

package hw

import (
	"fmt"
	"time"
)

func OpenSysfsPWM(channel int) (DutyWriter, error) {
	return nil, fmt.Errorf("hw: sysfs pwm unsupported on this platform")
}

func OpenGPIOOutput(chipPath, lineName string) (LevelWriter, error) {
	return nil, fmt.Errorf("hw: gpio output unsupported on this platform")
}

func OpenGPIOPulseCounter(chipPath, lineName string, debounce time.Duration) (PulseSource, error) {
	return nil, fmt.Errorf("hw: gpio pulse counter unsupported on this platform")
}
