// Package engine wires the configured fans, sensors and hardware backends
// together and owns the machine lifecycle: Build parses config and
// constructs everything, Connect runs cross-object validation and starts
// the periodic work, and the coordinator handles fault shutdown.
package engine

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"coolctl/pkg/config"
	"coolctl/pkg/fans"
	"coolctl/pkg/hw"
	"coolctl/pkg/metrics"
	"coolctl/pkg/reactor"
	"coolctl/pkg/sensors"
)

// Engine holds every configured component.
type Engine struct {
	log        *zap.Logger
	reactor    *reactor.Reactor
	dispatcher *hw.Dispatcher
	opener     hw.Opener
	coord      *Coordinator

	primary     *fans.Fan
	genericFans map[string]*fans.Fan
	tempFans    map[string]*fans.TemperatureFan
	registry    *fans.Registry

	pollers []*sensors.Poller
	tachs   []*fans.Tachometer
	actors  []*builtFan

	metrics      *metrics.FanMetrics
	metricsTimer *reactor.Timer
}

// builtFan ties a fan to its hardware sinks for shutdown and teardown.
type builtFan struct {
	fan    *fans.Fan
	pwm    *hw.PWMPin
	enable *hw.DigitalPin
	pulses *hw.FrequencyCounter
	timer  *reactor.Timer
}

// Options configures Build.
type Options struct {
	// Opener creates hardware drivers. Defaults to a simulated backend.
	Opener hw.Opener
	Log    *zap.Logger
	// Metrics, when set, is kept updated with fan and sensor state.
	Metrics *metrics.FanMetrics
}

// Build constructs the engine from a machine config file.
func Build(cfg *config.File, r *reactor.Reactor, opts Options) (*Engine, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	opener := opts.Opener
	if opener == nil {
		opener = &hw.SimOpener{Log: log}
	}

	e := &Engine{
		log:         log,
		reactor:     r,
		dispatcher:  hw.NewDispatcher(r, log),
		opener:      opener,
		coord:       NewCoordinator(log),
		genericFans: make(map[string]*fans.Fan),
		tempFans:    make(map[string]*fans.TemperatureFan),
		metrics:     opts.Metrics,
	}

	if sec := cfg.SectionOptional("fan"); sec != nil {
		fanCfg, err := fans.ParseFanConfig(sec, 0)
		if err != nil {
			return nil, err
		}
		f, err := e.buildFan(fanCfg)
		if err != nil {
			return nil, err
		}
		e.primary = f
	}
	e.registry = fans.NewRegistry(e.primary)

	for _, sec := range cfg.PrefixSections("fan_generic ") {
		fanCfg, err := fans.ParseFanConfig(sec, 0)
		if err != nil {
			return nil, err
		}
		f, err := e.buildFan(fanCfg)
		if err != nil {
			return nil, err
		}
		name := strings.TrimPrefix(sec.Name(), "fan_generic ")
		if _, dup := e.genericFans[name]; dup {
			return nil, fmt.Errorf("fan %q defined twice", name)
		}
		e.genericFans[name] = f
		if fanCfg.HasIndex {
			if err := e.registry.Add(fanCfg.Index, f); err != nil {
				return nil, err
			}
		}
	}

	for _, sec := range cfg.PrefixSections("temperature_fan ") {
		tfCfg, err := fans.ParseTemperatureFanConfig(sec)
		if err != nil {
			return nil, err
		}
		f, err := e.buildFan(tfCfg.Fan)
		if err != nil {
			return nil, err
		}
		src, err := sensors.FromConfig(sec)
		if err != nil {
			return nil, err
		}
		interval, err := sec.GetFloatBounded("sensor_report_interval",
			config.Bounds{Above: config.Float(0)}, 1.0)
		if err != nil {
			return nil, err
		}
		poller := sensors.NewPoller(r, src, interval, log)
		if e.metrics != nil {
			sensorName := sec.Name()
			poller.SetErrorHook(func() {
				e.metrics.SensorErrors.Inc(metrics.Labels{"sensor": sensorName})
			})
		}
		tf, err := fans.NewTemperatureFan(tfCfg, f, poller.ReportInterval(), log)
		if err != nil {
			return nil, err
		}
		poller.SetCallback(tf.TemperatureCallback)
		e.pollers = append(e.pollers, poller)
		if _, dup := e.tempFans[tf.Name()]; dup {
			return nil, fmt.Errorf("temperature fan %q defined twice", tf.Name())
		}
		e.tempFans[tf.Name()] = tf
		if tfCfg.Fan.HasIndex {
			if err := e.registry.Add(tfCfg.Fan.Index, f); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.CheckUnused(); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metricsTimer = r.RegisterTimer(e.updateMetrics, reactor.Never)
	}
	return e, nil
}

// updateMetrics refreshes the fan and sensor gauges once a second.
func (e *Engine) updateMetrics(eventtime float64) float64 {
	for _, b := range e.actors {
		name := b.fan.Name()
		e.metrics.FanSpeed.Set(metrics.Labels{"fan": name}, b.fan.Speed())
		if t := b.fan.Tachometer(); t != nil {
			e.metrics.FanRPM.Set(metrics.Labels{"fan": name}, t.RPM())
		}
	}
	for name, tf := range e.tempFans {
		temp, target := tf.Temp()
		e.metrics.SensorTemperature.Set(metrics.Labels{"sensor": name}, temp)
		e.metrics.TargetTemperature.Set(metrics.Labels{"sensor": name}, target)
	}
	return eventtime + 1.0
}

func (e *Engine) buildFan(cfg *fans.FanConfig) (*fans.Fan, error) {
	drv, err := e.opener.OpenPWM(cfg.Pin)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name, err)
	}
	pwm := hw.NewPWMPin(e.dispatcher, drv)
	if err := pwm.Configure(cfg.CycleTime, cfg.HardwarePWM); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name, err)
	}
	shutdownDuty := math.Max(0, math.Min(cfg.MaxPower, cfg.ShutdownSpeed))
	if err := pwm.SetInitial(0, shutdownDuty); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name, err)
	}

	var enable *hw.DigitalPin
	if cfg.EnablePin != "" {
		drv, err := e.opener.OpenDigital(cfg.EnablePin)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Name, err)
		}
		enable = hw.NewDigitalPin(e.dispatcher, drv)
	}

	var enableSink fans.DigitalSink
	if enable != nil {
		enableSink = enable
	}
	f := fans.NewFan(cfg, pwm, enableSink, e.log)
	built := &builtFan{fan: f, pwm: pwm, enable: enable}

	if cfg.Tach != nil {
		src, err := e.opener.OpenPulse(cfg.Tach.Pin, cfg.Tach.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Name, err)
		}
		counter := hw.NewFrequencyCounter(src)
		tach := fans.NewTachometer(f, cfg.Tach, e.InvokeShutdown, e.log)
		if e.metrics != nil {
			fanName := cfg.Name
			tach.SetWarnHook(func() {
				e.metrics.TachWarnings.Inc(metrics.Labels{"fan": fanName})
			})
		}
		f.SetTachometer(tach)
		e.tachs = append(e.tachs, tach)
		built.pulses = counter
		sample := cfg.Tach.SampleTime
		built.timer = e.reactor.RegisterTimer(func(eventtime float64) float64 {
			freq := counter.Update(eventtime)
			tach.Sample(eventtime, freq)
			return eventtime + sample
		}, reactor.Never)
	}

	e.coord.RegisterHandler(cfg.Name, func() {
		if err := pwm.ApplyShutdown(); err != nil {
			e.log.Error("shutdown duty apply failed",
				zap.String("fan", cfg.Name), zap.Error(err))
		}
	})

	e.actors = append(e.actors, built)
	return f, nil
}

// Connect validates cross-object constraints and starts periodic sampling.
func (e *Engine) Connect() error {
	for _, t := range e.tachs {
		if err := t.CheckHeaterPolicy(); err != nil {
			return err
		}
	}
	for _, p := range e.pollers {
		p.Start()
	}
	for _, b := range e.actors {
		if b.timer != nil {
			e.reactor.UpdateTimer(b.timer, reactor.Now)
		}
	}
	if e.metricsTimer != nil {
		e.reactor.UpdateTimer(e.metricsTimer, reactor.Now)
	}
	e.coord.SetReady()
	e.log.Info("engine ready",
		zap.Int("fans", len(e.actors)),
		zap.Int("temperature_fans", len(e.tempFans)))
	return nil
}

// InvokeShutdown requests an emergency shutdown. Pending scheduled commands
// are flushed first so the shutdown duty is the final word on every pin.
func (e *Engine) InvokeShutdown(reason string) {
	first := !e.coord.IsShutdown()
	if first {
		e.dispatcher.Flush()
		if e.metrics != nil {
			e.metrics.ShutdownEvents.Inc(nil)
		}
	}
	e.coord.Invoke(reason)
}

// OnRestart schedules every fan to stop through the normal speed path.
func (e *Engine) OnRestart() {
	now := e.reactor.Monotonic()
	for _, b := range e.actors {
		b.fan.SetSpeed(now, 0)
	}
}

// Close stops sampling and releases hardware.
func (e *Engine) Close() {
	for _, p := range e.pollers {
		p.Stop()
	}
	if e.metricsTimer != nil {
		e.reactor.UnregisterTimer(e.metricsTimer)
	}
	for _, b := range e.actors {
		if b.timer != nil {
			e.reactor.UnregisterTimer(b.timer)
		}
		if b.pulses != nil {
			_ = b.pulses.Close()
		}
		if b.enable != nil {
			_ = b.enable.Close()
		}
		_ = b.pwm.Close()
	}
}

// State returns the lifecycle state.
func (e *Engine) State() State { return e.coord.State() }
