// Package sensors provides temperature sources and the reactor-driven poller
// that feeds their readings to temperature controllers.
package sensors

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/sensors"
)

// Source reads a temperature in degrees Celsius.
type Source interface {
	Name() string
	Read() (float64, error)
}

// ThermalZone reads a /sys/class/thermal zone file. The kernel usually
// reports milli-degrees (e.g. 52345) but some platforms report plain degrees.
type ThermalZone struct {
	name string
	path string
}

// NewThermalZone creates a source reading the given sysfs path.
func NewThermalZone(name, path string) *ThermalZone {
	if path == "" {
		path = "/sys/class/thermal/thermal_zone0/temp"
	}
	return &ThermalZone{name: name, path: path}
}

func (z *ThermalZone) Name() string { return z.name }

func (z *ThermalZone) Read() (float64, error) {
	b, err := os.ReadFile(z.path)
	if err != nil {
		return 0, fmt.Errorf("sensors: read %s: %w", z.path, err)
	}
	return parseThermal(string(b))
}

func parseThermal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("sensors: empty thermal reading")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("sensors: parse thermal reading %q: %w", s, err)
	}
	// Anything at or above 200 is taken as milli-degrees: 200 C is past any
	// plausible zone temperature, while sub-1 C milli-degree readings (e.g.
	// 950) must not be read as whole degrees.
	if n >= 200 || n <= -200 {
		return float64(n) / 1000.0, nil
	}
	return float64(n), nil
}

// HostSensor reads a temperature from the host's hardware monitoring
// sensors, selected by sensor key substring (e.g. "coretemp" or "cpu").
type HostSensor struct {
	name string
	key  string
}

// NewHostSensor creates a host sensor source matching key.
func NewHostSensor(name, key string) *HostSensor {
	return &HostSensor{name: name, key: key}
}

func (h *HostSensor) Name() string { return h.name }

func (h *HostSensor) Read() (float64, error) {
	stats, err := sensors.SensorsTemperatures()
	if err != nil && len(stats) == 0 {
		return 0, fmt.Errorf("sensors: host temperatures: %w", err)
	}
	for _, s := range stats {
		if strings.Contains(strings.ToLower(s.SensorKey), strings.ToLower(h.key)) {
			return s.Temperature, nil
		}
	}
	return 0, fmt.Errorf("sensors: no host sensor matching %q", h.key)
}

// Manual is a settable source, used for simulation and tests.
type Manual struct {
	name string

	mu   sync.Mutex
	temp float64
}

// NewManual creates a manual source starting at the given temperature.
func NewManual(name string, temp float64) *Manual {
	return &Manual{name: name, temp: temp}
}

func (m *Manual) Name() string { return m.name }

// Set updates the reported temperature.
func (m *Manual) Set(temp float64) {
	m.mu.Lock()
	m.temp = temp
	m.mu.Unlock()
}

func (m *Manual) Read() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.temp, nil
}
