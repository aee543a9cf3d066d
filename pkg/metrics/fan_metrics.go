package metrics

import (
	"net/http"
	goruntime "runtime"
	"time"
)

// FanMetrics holds the daemon's metric set.
type FanMetrics struct {
	// Per-fan metrics, labeled fan=<name>.
	FanSpeed *Gauge
	FanRPM   *Gauge

	// Per-sensor metrics, labeled sensor=<section name>.
	SensorTemperature *Gauge
	TargetTemperature *Gauge

	CommandsTotal  *Counter
	ShutdownEvents *Counter
	TachWarnings   *Counter
	SensorErrors   *Counter

	UptimeSeconds *Gauge
	GoGoroutines  *Gauge

	startTime time.Time
	registry  *Registry
}

// NewFanMetrics creates and registers the daemon metric set.
func NewFanMetrics() *FanMetrics {
	m := &FanMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}
	m.FanSpeed = NewGauge("coolctl_fan_speed",
		"Requested fan speed (0-1)")
	m.FanRPM = NewGauge("coolctl_fan_rpm",
		"Measured fan speed in revolutions per minute")
	m.SensorTemperature = NewGauge("coolctl_sensor_temperature_celsius",
		"Last temperature reading")
	m.TargetTemperature = NewGauge("coolctl_target_temperature_celsius",
		"Regulation target temperature")
	m.CommandsTotal = NewCounter("coolctl_commands_total",
		"Commands processed, labeled by command name")
	m.ShutdownEvents = NewCounter("coolctl_shutdown_events_total",
		"Emergency shutdowns invoked")
	m.TachWarnings = NewCounter("coolctl_tach_warnings_total",
		"Tachometer signal loss warnings emitted")
	m.SensorErrors = NewCounter("coolctl_sensor_errors_total",
		"Failed sensor reads")
	m.UptimeSeconds = NewGauge("coolctl_uptime_seconds",
		"Seconds since daemon start")
	m.GoGoroutines = NewGauge("coolctl_go_goroutines",
		"Number of goroutines")

	for _, metric := range []Metric{
		m.FanSpeed, m.FanRPM,
		m.SensorTemperature, m.TargetTemperature,
		m.CommandsTotal, m.ShutdownEvents, m.TachWarnings, m.SensorErrors,
		m.UptimeSeconds, m.GoGoroutines,
	} {
		m.registry.Register(metric)
	}
	return m
}

// Handler serves the metric set, refreshing the process gauges per scrape.
func (m *FanMetrics) Handler() http.Handler {
	inner := m.registry.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.UptimeSeconds.Set(nil, time.Since(m.startTime).Seconds())
		m.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
		inner.ServeHTTP(w, r)
	})
}
