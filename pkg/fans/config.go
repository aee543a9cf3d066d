package fans

import (
	"coolctl/pkg/config"
)

// Fault actions taken when a tachometer reports a stall.
const (
	ActionShutdown = "shutdown"
	ActionWarning  = "warning"
	ActionNone     = "none"
)

// TachConfig holds tachometer options for a fan section.
type TachConfig struct {
	Pin string
	PPR int
	// PollInterval is applied as the edge debounce filter period on the
	// tach line, bounding the shortest pulse counted.
	PollInterval  float64
	SampleTime    float64
	LossInterval  float64
	Action        string
	WarningRepeat float64
}

// FanConfig holds the parsed options of a [fan] or [fan_generic ...] section.
type FanConfig struct {
	Name          string
	Pin           string
	EnablePin     string
	FourWire      bool
	MaxPower      float64
	KickStartTime float64
	OffBelow      float64
	CycleTime     float64
	HardwarePWM   bool
	ShutdownSpeed float64
	Heaters       []string

	// Index is the slicer-facing fan number (M106 T<n>). HasIndex is false
	// when the option is absent; index 0 is implicit for the primary [fan].
	Index    int
	HasIndex bool

	Tach *TachConfig
}

// ParseFanConfig reads the fan options from a config section.
// defaultShutdownSpeed is the duty applied on fault shutdown when the
// section does not override it (0 for plain fans, 1 for temperature fans).
func ParseFanConfig(sec *config.Section, defaultShutdownSpeed float64) (*FanConfig, error) {
	cfg := &FanConfig{Name: sec.Name()}

	var err error
	if cfg.Pin, err = sec.Get("pin"); err != nil {
		return nil, err
	}
	if cfg.EnablePin, err = sec.Get("enable_pin", ""); err != nil {
		return nil, err
	}
	// An enable pin implies a 4-wire fan with its own PWM circuitry, which
	// takes the duty cycle as-is. Overridable for unusual wiring.
	if cfg.FourWire, err = sec.GetBool("four_wire", cfg.EnablePin != ""); err != nil {
		return nil, err
	}
	cfg.MaxPower, err = sec.GetFloatBounded("max_power",
		config.Bounds{Above: config.Float(0), MaxVal: config.Float(1)}, 1.0)
	if err != nil {
		return nil, err
	}
	cfg.KickStartTime, err = sec.GetFloatBounded("kick_start_time",
		config.Bounds{MinVal: config.Float(0)}, 0.1)
	if err != nil {
		return nil, err
	}
	cfg.OffBelow, err = sec.GetFloatBounded("off_below",
		config.Bounds{MinVal: config.Float(0), MaxVal: config.Float(1)}, 0.0)
	if err != nil {
		return nil, err
	}
	cfg.CycleTime, err = sec.GetFloatBounded("cycle_time",
		config.Bounds{Above: config.Float(0)}, 0.010)
	if err != nil {
		return nil, err
	}
	if cfg.HardwarePWM, err = sec.GetBool("hardware_pwm", false); err != nil {
		return nil, err
	}
	cfg.ShutdownSpeed, err = sec.GetFloatBounded("shutdown_speed",
		config.Bounds{MinVal: config.Float(0), MaxVal: config.Float(1)},
		defaultShutdownSpeed)
	if err != nil {
		return nil, err
	}
	if cfg.Heaters, err = sec.GetList("heater", ",", nil); err != nil {
		return nil, err
	}
	if sec.HasOption("fan_number") {
		if cfg.Index, err = sec.GetInt("fan_number"); err != nil {
			return nil, err
		}
		cfg.HasIndex = true
	}

	tach, err := parseTachConfig(sec)
	if err != nil {
		return nil, err
	}
	cfg.Tach = tach
	return cfg, nil
}

func parseTachConfig(sec *config.Section) (*TachConfig, error) {
	pin, err := sec.Get("tachometer_pin", "")
	if err != nil {
		return nil, err
	}
	if pin == "" {
		return nil, nil
	}
	t := &TachConfig{Pin: pin, SampleTime: 1.0}
	t.PollInterval, err = sec.GetFloatBounded("tachometer_poll_interval",
		config.Bounds{Above: config.Float(0)}, 0.0015)
	if err != nil {
		return nil, err
	}
	if t.PPR, err = sec.GetIntAtLeast("tachometer_ppr", 1, 2); err != nil {
		return nil, err
	}
	t.LossInterval, err = sec.GetFloatBounded("tach_loss_interval",
		config.Bounds{Above: config.Float(0), Below: config.Float(10)}, 3.0)
	if err != nil {
		return nil, err
	}
	t.Action, err = sec.GetChoice("tach_loss_action",
		[]string{ActionShutdown, ActionWarning, ActionNone}, ActionShutdown)
	if err != nil {
		return nil, err
	}
	t.WarningRepeat, err = sec.GetFloatBounded("tach_warning_repeat_interval",
		config.Bounds{Above: config.Float(-1)}, t.LossInterval)
	if err != nil {
		return nil, err
	}
	return t, nil
}
