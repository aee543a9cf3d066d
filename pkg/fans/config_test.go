package fans

import (
	"testing"

	"coolctl/pkg/config"
)

func parseSection(t *testing.T, src, name string) *config.Section {
	t.Helper()
	cfg, err := config.LoadString(src)
	if err != nil {
		t.Fatal(err)
	}
	sec, err := cfg.Section(name)
	if err != nil {
		t.Fatal(err)
	}
	return sec
}

func TestParseFanConfigDefaults(t *testing.T) {
	sec := parseSection(t, "[fan]\npin: PA0\n", "fan")
	cfg, err := ParseFanConfig(sec, 0)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxPower != 1.0 || cfg.KickStartTime != 0.1 || cfg.OffBelow != 0 ||
		cfg.CycleTime != 0.010 || cfg.HardwarePWM || cfg.FourWire {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Tach != nil {
		t.Error("tach config present without tachometer_pin")
	}
	if cfg.HasIndex {
		t.Error("fan index present without fan_number")
	}
}

func TestParseFanConfigEnablePinImpliesFourWire(t *testing.T) {
	sec := parseSection(t, "[fan]\npin: PA0\nenable_pin: PA1\n", "fan")
	cfg, err := ParseFanConfig(sec, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.FourWire {
		t.Error("enable_pin did not imply four_wire")
	}
}

func TestParseFanConfigBounds(t *testing.T) {
	cases := []string{
		"[fan]\npin: PA0\nmax_power: 1.5\n",
		"[fan]\npin: PA0\nmax_power: 0\n",
		"[fan]\npin: PA0\nkick_start_time: -1\n",
		"[fan]\npin: PA0\ncycle_time: 0\n",
		"[fan]\npin: PA0\ntachometer_pin: PA2\ntach_loss_interval: 10\n",
		"[fan]\npin: PA0\ntachometer_pin: PA2\ntachometer_ppr: 0\n",
		"[fan]\npin: PA0\ntachometer_pin: PA2\ntach_loss_action: reboot\n",
	}
	for _, src := range cases {
		sec := parseSection(t, src, "fan")
		if _, err := ParseFanConfig(sec, 0); err == nil {
			t.Errorf("config accepted, want error:\n%s", src)
		}
	}
}

func TestParseFanConfigTachDefaults(t *testing.T) {
	sec := parseSection(t, "[fan]\npin: PA0\ntachometer_pin: PA2\n", "fan")
	cfg, err := ParseFanConfig(sec, 0)
	if err != nil {
		t.Fatal(err)
	}
	tach := cfg.Tach
	if tach == nil {
		t.Fatal("tach config missing")
	}
	if tach.PPR != 2 || tach.PollInterval != 0.0015 || tach.SampleTime != 1.0 ||
		tach.LossInterval != 3.0 || tach.Action != ActionShutdown ||
		tach.WarningRepeat != 3.0 {
		t.Errorf("unexpected tach defaults: %+v", tach)
	}
}

func TestParseTemperatureFanConfig(t *testing.T) {
	sec := parseSection(t, `
[temperature_fan board]
pin: PA0
min_temp: 0
max_temp: 100
control: pid
pid_Kp: 40
pid_Ki: 0.2
pid_Kd: 0.1
`, "temperature_fan board")
	cfg, err := ParseTemperatureFanConfig(sec)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TargetTemp != 40 {
		t.Errorf("default target = %v, want 40", cfg.TargetTemp)
	}
	if cfg.MinSpeed != 0.3 || cfg.MaxSpeed != 1.0 {
		t.Errorf("speed defaults = %v/%v, want 0.3/1.0", cfg.MinSpeed, cfg.MaxSpeed)
	}
	if cfg.Kp != 40.0/255.0 {
		t.Errorf("Kp = %v, want scaled by 1/255", cfg.Kp)
	}
	if cfg.Fan.ShutdownSpeed != 1.0 {
		t.Errorf("temperature fan shutdown speed = %v, want 1.0", cfg.Fan.ShutdownSpeed)
	}
	if cfg.DerivTime != 2.0 {
		t.Errorf("pid_deriv_time default = %v, want 2.0", cfg.DerivTime)
	}
}

func TestParseTemperatureFanConfigLowMaxTempTarget(t *testing.T) {
	sec := parseSection(t, `
[temperature_fan board]
pin: PA0
min_temp: 0
max_temp: 35
control: watermark
`, "temperature_fan board")
	cfg, err := ParseTemperatureFanConfig(sec)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TargetTemp != 35 {
		t.Errorf("default target = %v, want clamped to max_temp 35", cfg.TargetTemp)
	}
}

func TestParseTemperatureFanConfigRejectsBadRange(t *testing.T) {
	sec := parseSection(t, `
[temperature_fan board]
pin: PA0
min_temp: 50
max_temp: 40
control: watermark
`, "temperature_fan board")
	if _, err := ParseTemperatureFanConfig(sec); err == nil {
		t.Error("max_temp below min_temp accepted")
	}
}
