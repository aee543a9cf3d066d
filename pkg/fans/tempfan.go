package fans

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"coolctl/pkg/config"
)

const (
	kelvinToCelsius = -273.15
	maxFanTime      = 5.0
	ambientTemp     = 25.0
	pidParamBase    = 255.0
	maxTempBuffer   = 0.8
)

// Control adjusts a temperature fan's speed from temperature readings.
type Control interface {
	TemperatureCallback(readTime, temp float64)
}

// TemperatureFanConfig holds the parsed options of a
// [temperature_fan ...] section beyond the base fan options.
type TemperatureFanConfig struct {
	Fan *FanConfig

	MinTemp       float64
	MaxTemp       float64
	MinTempCutoff float64
	TargetTemp    float64
	MaxSpeed      float64
	MinSpeed      float64

	Control string // watermark, pid or slope

	MaxDelta float64 // watermark

	Kp, Ki, Kd float64 // pid, already divided by pidParamBase
	DerivTime  float64

	Slope string // linear, log or exponential
}

// ParseTemperatureFanConfig reads a temperature fan section.
func ParseTemperatureFanConfig(sec *config.Section) (*TemperatureFanConfig, error) {
	fanCfg, err := ParseFanConfig(sec, 1.0)
	if err != nil {
		return nil, err
	}
	cfg := &TemperatureFanConfig{Fan: fanCfg}

	cfg.MinTemp, err = sec.GetFloatBounded("min_temp",
		config.Bounds{MinVal: config.Float(kelvinToCelsius)})
	if err != nil {
		return nil, err
	}
	cfg.MaxTemp, err = sec.GetFloatBounded("max_temp",
		config.Bounds{Above: config.Float(cfg.MinTemp)})
	if err != nil {
		return nil, err
	}
	cfg.MinTempCutoff, err = sec.GetFloatBounded("min_temp_cutoff",
		config.Bounds{MaxVal: config.Float(65)}, 0)
	if err != nil {
		return nil, err
	}
	defaultTarget := 40.0
	if cfg.MaxTemp <= 40 {
		defaultTarget = cfg.MaxTemp
	}
	cfg.TargetTemp, err = sec.GetFloatBounded("target_temp",
		config.Bounds{MinVal: config.Float(cfg.MinTemp), MaxVal: config.Float(cfg.MaxTemp)},
		defaultTarget)
	if err != nil {
		return nil, err
	}
	cfg.MaxSpeed, err = sec.GetFloatBounded("max_speed",
		config.Bounds{Above: config.Float(0), MaxVal: config.Float(1)}, 1.0)
	if err != nil {
		return nil, err
	}
	cfg.MinSpeed, err = sec.GetFloatBounded("min_speed",
		config.Bounds{MinVal: config.Float(0), MaxVal: config.Float(1)}, 0.3)
	if err != nil {
		return nil, err
	}

	cfg.Control, err = sec.GetChoice("control",
		[]string{"watermark", "pid", "slope"})
	if err != nil {
		return nil, err
	}
	switch cfg.Control {
	case "watermark":
		cfg.MaxDelta, err = sec.GetFloatBounded("max_delta",
			config.Bounds{Above: config.Float(0)}, 2.0)
		if err != nil {
			return nil, err
		}
	case "pid":
		if cfg.Kp, err = sec.GetFloat("pid_kp"); err != nil {
			return nil, err
		}
		if cfg.Ki, err = sec.GetFloat("pid_ki"); err != nil {
			return nil, err
		}
		if cfg.Kd, err = sec.GetFloat("pid_kd"); err != nil {
			return nil, err
		}
		cfg.Kp /= pidParamBase
		cfg.Ki /= pidParamBase
		cfg.Kd /= pidParamBase
		cfg.DerivTime, err = sec.GetFloatBounded("pid_deriv_time",
			config.Bounds{Above: config.Float(0)}, 2.0)
		if err != nil {
			return nil, err
		}
	case "slope":
		cfg.Slope, err = sec.GetChoice("slope",
			[]string{"linear", "log", "exponential"})
		if err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// TemperatureFan regulates a fan from a temperature source. Readings arrive
// through TemperatureCallback; the configured control decides the speed and
// the gating in setSpeed limits how often the fan is actually commanded.
type TemperatureFan struct {
	name string
	fan  *Fan
	log  *zap.Logger

	minTemp        float64
	maxTemp        float64
	minTempCutoff  float64
	targetTempConf float64
	maxSpeedConf   float64
	minSpeedConf   float64
	speedDelay     float64

	mu             sync.Mutex
	control        Control
	targetTemp     float64
	lastTemp       float64
	nextSpeedTime  float64
	lastSpeedValue float64
	maxSpeed       float64
	minSpeed       float64
}

// NewTemperatureFan creates a regulated fan. speedDelay is the sensor
// report interval; fan speed changes are scheduled one report ahead so the
// next reading reflects them.
func NewTemperatureFan(cfg *TemperatureFanConfig, fan *Fan, speedDelay float64, log *zap.Logger) (*TemperatureFan, error) {
	tf := &TemperatureFan{
		name:           sectionSuffix(cfg.Fan.Name),
		fan:            fan,
		log:            log,
		minTemp:        cfg.MinTemp,
		maxTemp:        cfg.MaxTemp,
		minTempCutoff:  cfg.MinTempCutoff,
		targetTempConf: cfg.TargetTemp,
		maxSpeedConf:   cfg.MaxSpeed,
		minSpeedConf:   cfg.MinSpeed,
		speedDelay:     speedDelay,
		targetTemp:     cfg.TargetTemp,
		maxSpeed:       cfg.MaxSpeed,
		minSpeed:       cfg.MinSpeed,
	}
	if tf.minTemp > ambientTemp*0.9 {
		log.Warn("min_temp is close to or above room temperature, sensor cutoff likely",
			zap.String("fan", tf.name),
			zap.Float64("min_temp", tf.minTemp))
	}

	var ctrl Control
	switch cfg.Control {
	case "watermark":
		ctrl = newControlBangBang(tf, cfg.MaxDelta)
	case "pid":
		ctrl = newControlPID(tf, cfg)
	case "slope":
		var err error
		ctrl, err = newControlSlope(tf, cfg.Slope)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown control algorithm %q", cfg.Control)
	}
	tf.control = ctrl
	return tf, nil
}

func sectionSuffix(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == ' ' {
			return name[i+1:]
		}
	}
	return name
}

// Name returns the fan's name without the section prefix.
func (tf *TemperatureFan) Name() string { return tf.name }

// Fan returns the underlying actuator.
func (tf *TemperatureFan) Fan() *Fan { return tf.fan }

// TemperatureCallback receives a new sensor reading.
func (tf *TemperatureFan) TemperatureCallback(readTime, temp float64) {
	tf.mu.Lock()
	tf.lastTemp = temp
	ctrl := tf.control
	tf.mu.Unlock()
	ctrl.TemperatureCallback(readTime, temp)
}

// setSpeed is the control-to-actuator path. Sub-minimum nonzero speeds are
// raised to min_speed, a disabled target forces off, and updates within
// 0.05 of the last value are suppressed while inside the hold-off window
// (or while the fan is off).
func (tf *TemperatureFan) setSpeed(readTime, value float64) {
	tf.mu.Lock()
	if value <= 0 {
		value = 0
	} else if value < tf.minSpeed {
		value = tf.minSpeed
	}
	if tf.targetTemp <= 0 {
		value = 0
	}
	if (readTime < tf.nextSpeedTime || tf.lastSpeedValue == 0) &&
		math.Abs(value-tf.lastSpeedValue) < 0.05 {
		tf.mu.Unlock()
		return
	}
	speedTime := readTime + tf.speedDelay
	tf.nextSpeedTime = speedTime + 0.75*maxFanTime
	tf.lastSpeedValue = value
	tf.mu.Unlock()

	tf.fan.SetSpeed(speedTime, value)
}

// setDisplayTarget publishes the target shown in status. Slope control uses
// it to report the clamped curve temperature.
func (tf *TemperatureFan) setDisplayTarget(target float64) {
	tf.mu.Lock()
	tf.targetTemp = target
	tf.mu.Unlock()
}

// Target returns the active target temperature.
func (tf *TemperatureFan) Target() float64 {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return tf.targetTemp
}

// Temp returns the last reading and the active target.
func (tf *TemperatureFan) Temp() (last, target float64) {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return tf.lastTemp, tf.targetTemp
}

// MinSpeed returns the active minimum regulated speed.
func (tf *TemperatureFan) MinSpeed() float64 {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return tf.minSpeed
}

// MaxSpeed returns the active maximum regulated speed.
func (tf *TemperatureFan) MaxSpeed() float64 {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return tf.maxSpeed
}

// MinTempCutoff returns the low-temperature cutoff.
func (tf *TemperatureFan) MinTempCutoff() float64 { return tf.minTempCutoff }

// SetTarget changes the target temperature. Zero disables regulation; a
// nonzero target must lie within [min_temp, max_temp].
func (tf *TemperatureFan) SetTarget(degrees float64) error {
	if err := tf.validateTarget(degrees); err != nil {
		return err
	}
	tf.mu.Lock()
	tf.targetTemp = degrees
	tf.mu.Unlock()
	return nil
}

func (tf *TemperatureFan) validateTarget(degrees float64) error {
	if degrees != 0 && (degrees < tf.minTemp || degrees > tf.maxTemp) {
		return fmt.Errorf("requested temperature (%.1f) out of range (%.1f:%.1f)",
			degrees, tf.minTemp, tf.maxTemp)
	}
	return nil
}

func validateSpeed(kind string, speed float64) error {
	if speed != 0 && (speed < 0 || speed > 1) {
		return fmt.Errorf("requested %s speed (%.1f) out of range (0.0 : 1.0)", kind, speed)
	}
	return nil
}

// AdjustParams holds a SET_TEMPERATURE_FAN_TARGET request. Nil fields keep
// their current value (the target falls back to the configured default).
type AdjustParams struct {
	Target   *float64
	MinSpeed *float64
	MaxSpeed *float64
}

// Adjust applies a target/speed-bounds change. Every parameter is validated
// before any state changes, so a rejected request leaves the fan untouched.
func (tf *TemperatureFan) Adjust(p AdjustParams) error {
	tf.mu.Lock()
	target := tf.targetTempConf
	minSpeed := tf.minSpeed
	maxSpeed := tf.maxSpeed
	tf.mu.Unlock()

	if p.Target != nil {
		target = *p.Target
	}
	if p.MinSpeed != nil {
		minSpeed = *p.MinSpeed
	}
	if p.MaxSpeed != nil {
		maxSpeed = *p.MaxSpeed
	}

	if err := tf.validateTarget(target); err != nil {
		return err
	}
	if minSpeed > maxSpeed {
		return fmt.Errorf("requested min speed (%.1f) is greater than max speed (%.1f)",
			minSpeed, maxSpeed)
	}
	if err := validateSpeed("min", minSpeed); err != nil {
		return err
	}
	if err := validateSpeed("max", maxSpeed); err != nil {
		return err
	}

	tf.mu.Lock()
	tf.targetTemp = target
	tf.minSpeed = minSpeed
	tf.maxSpeed = maxSpeed
	tf.mu.Unlock()
	return nil
}

// TempFanStatus is the externally visible temperature fan state.
type TempFanStatus struct {
	Speed       float64  `json:"speed"`
	RPM         *float64 `json:"rpm"`
	Temperature float64  `json:"temperature"`
	Target      float64  `json:"target"`
}

// GetStatus reports fan state plus the last temperature and target.
func (tf *TemperatureFan) GetStatus(eventtime float64) TempFanStatus {
	fs := tf.fan.GetStatus(eventtime)
	tf.mu.Lock()
	last := tf.lastTemp
	target := tf.targetTemp
	tf.mu.Unlock()
	return TempFanStatus{
		Speed:       fs.Speed,
		RPM:         fs.RPM,
		Temperature: math.Round(last*100) / 100,
		Target:      target,
	}
}
