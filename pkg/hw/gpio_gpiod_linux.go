//go:build linux

package hw

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const gpioConsumer = "coolctl"

// gpiodOutput drives a GPIO line as a digital output through the Linux GPIO
// character device.
type gpiodOutput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// OpenGPIOOutput requests the named line (e.g. "GPIO23") as an output.
// With an empty chip path every /dev/gpiochip* is probed for the line.
func OpenGPIOOutput(chipPath, lineName string) (LevelWriter, error) {
	chip, offset, err := findGPIOLine(chipPath, lineName)
	if err != nil {
		return nil, err
	}
	line, err := chip.RequestLine(offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer(gpioConsumer))
	if err != nil {
		_ = chip.Close()
		return nil, fmt.Errorf("hw: request gpio line %q: %w", lineName, err)
	}
	return &gpiodOutput{chip: chip, line: line}, nil
}

func (g *gpiodOutput) SetLevel(level int) error {
	if level != 0 {
		level = 1
	}
	return g.line.SetValue(level)
}

func (g *gpiodOutput) Close() error {
	_ = g.line.SetValue(0)
	err := g.line.Close()
	_ = g.chip.Close()
	return err
}

// gpiodPulseCounter counts edge events on a GPIO line, typically a fan
// tachometer open-collector output pulled up to 3.3V.
type gpiodPulseCounter struct {
	chip  *gpiocdev.Chip
	line  *gpiocdev.Line
	count atomic.Uint64
}

// OpenGPIOPulseCounter requests the named line as an input and counts
// rising edges on it. debounce > 0 installs a kernel debounce filter, which
// bounds the shortest pulse the counter registers.
func OpenGPIOPulseCounter(chipPath, lineName string, debounce time.Duration) (PulseSource, error) {
	chip, offset, err := findGPIOLine(chipPath, lineName)
	if err != nil {
		return nil, err
	}
	c := &gpiodPulseCounter{chip: chip}
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithConsumer(gpioConsumer),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			c.count.Add(1)
		}),
	}
	if debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(debounce))
	}
	line, err := chip.RequestLine(offset, opts...)
	if err != nil {
		_ = chip.Close()
		return nil, fmt.Errorf("hw: request tach line %q: %w", lineName, err)
	}
	c.line = line
	return c, nil
}

func (c *gpiodPulseCounter) Count() uint64 {
	return c.count.Load()
}

func (c *gpiodPulseCounter) Close() error {
	err := c.line.Close()
	_ = c.chip.Close()
	return err
}

func findGPIOLine(chipPath, lineName string) (*gpiocdev.Chip, int, error) {
	var candidates []string
	if chipPath != "" {
		candidates = []string{chipPath}
	} else {
		entries, _ := os.ReadDir("/dev")
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "gpiochip") {
				candidates = append(candidates, filepath.Join("/dev", e.Name()))
			}
		}
	}
	for _, path := range candidates {
		chip, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return chip, offset, nil
	}
	return nil, 0, fmt.Errorf("hw: gpio line %q not found (or busy)", lineName)
}
