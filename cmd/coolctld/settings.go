package main

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"coolctl/pkg/logging"
)

// Settings holds the daemon-level configuration loaded from settings.yaml.
// The machine config (fans, sensors, pins) lives in its own INI-style file;
// this covers everything around it.
type Settings struct {
	Logging logging.Config `yaml:"logging"`

	API struct {
		// Addr is the HTTP listen address. Empty disables the API server.
		Addr string `yaml:"addr"`
	} `yaml:"api"`

	Hardware struct {
		// Simulated replaces all hardware backends with logging stand-ins.
		Simulated bool `yaml:"simulated"`
		// GPIOChip is the gpiochip device path for enable and tachometer
		// pins. Empty probes /dev/gpiochip* for the named line.
		GPIOChip string `yaml:"gpio_chip"`
	} `yaml:"hardware"`

	// PidFile is written and flocked on startup. Empty disables it.
	PidFile string `yaml:"pid_file"`
}

// DefaultSettings returns the settings used when no settings file is given.
func DefaultSettings() Settings {
	var s Settings
	s.Logging = logging.DefaultConfig()
	s.API.Addr = ":7130"
	return s
}

// LoadSettings reads a settings.yaml. Unknown keys are rejected so typos
// fail loudly instead of silently using defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
