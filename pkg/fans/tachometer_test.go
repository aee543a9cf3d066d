package fans

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func spinningFan(t *testing.T) *Fan {
	t.Helper()
	f := testFan(FanConfig{Name: "fan", FourWire: true}, &fakePWM{}, nil)
	f.SetSpeed(1.0, 0.5)
	return f
}

func tachCfg() *TachConfig {
	return &TachConfig{
		Pin:          "tach",
		PPR:          2,
		LossInterval: 3.0,
		Action:       ActionShutdown,
	}
}

func TestTachometerRPM(t *testing.T) {
	tach := NewTachometer(spinningFan(t), tachCfg(), nil, zap.NewNop())

	tach.Sample(10.0, 10.0)
	// rpm = freq * 60 / (2 * ppr): 10 Hz with 2 pulses per rev is 300 pulses
	// per minute, 150 revolutions.
	if got := tach.RPM(); got != 150.0 {
		t.Errorf("RPM = %v, want 150", got)
	}
}

func TestStallFiresPastLossInterval(t *testing.T) {
	var reasons []string
	tach := NewTachometer(spinningFan(t), tachCfg(), func(reason string) {
		reasons = append(reasons, reason)
	}, zap.NewNop())

	tach.Sample(10.0, 0) // loss starts
	tach.Sample(12.0, 0)
	tach.Sample(13.0, 0) // exactly at the interval boundary
	if len(reasons) != 0 {
		t.Fatalf("fault fired at the boundary: %v", reasons)
	}
	tach.Sample(13.1, 0)
	if len(reasons) != 1 {
		t.Fatalf("got %d shutdowns past the boundary, want 1", len(reasons))
	}
}

func TestStallIgnoredWhileFanOff(t *testing.T) {
	f := testFan(FanConfig{Name: "fan", FourWire: true}, &fakePWM{}, nil)
	fired := false
	tach := NewTachometer(f, tachCfg(), func(string) { fired = true }, zap.NewNop())

	tach.Sample(10.0, 0)
	tach.Sample(20.0, 0)
	if fired {
		t.Error("stall fault fired while the fan was commanded off")
	}
}

func TestStallRecovery(t *testing.T) {
	fired := false
	tach := NewTachometer(spinningFan(t), tachCfg(), func(string) { fired = true }, zap.NewNop())

	tach.Sample(10.0, 0)
	tach.Sample(12.0, 5.0) // signal returns, debounce resets
	tach.Sample(14.0, 0)   // a fresh loss window starts here
	tach.Sample(16.0, 0)
	if fired {
		t.Error("stall fault fired despite signal recovery")
	}
	tach.Sample(17.1, 0)
	if !fired {
		t.Error("stall fault missing after the new loss window expired")
	}
}

func TestWarningActionWarnsOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := tachCfg()
	cfg.Action = ActionWarning
	cfg.WarningRepeat = 0
	tach := NewTachometer(spinningFan(t), cfg, nil, zap.New(core))

	tach.Sample(10.0, 0)
	tach.Sample(13.1, 0)
	tach.Sample(20.0, 0)
	tach.Sample(30.0, 0)
	if got := logs.Len(); got != 1 {
		t.Errorf("warn-once issued %d warnings, want 1", got)
	}
}

func TestWarningRepeatInterval(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := tachCfg()
	cfg.Action = ActionWarning
	cfg.WarningRepeat = 5.0
	tach := NewTachometer(spinningFan(t), cfg, nil, zap.New(core))

	tach.Sample(10.0, 0)
	tach.Sample(14.0, 0) // first warning
	tach.Sample(16.0, 0) // inside repeat interval
	if got := logs.Len(); got != 1 {
		t.Fatalf("got %d warnings, want 1", got)
	}
	tach.Sample(19.5, 0) // past repeat interval
	if got := logs.Len(); got != 2 {
		t.Errorf("got %d warnings, want 2", got)
	}
}

func TestHeaterPolicyRequiresShutdown(t *testing.T) {
	f := testFan(FanConfig{Name: "heater_fan hotend", FourWire: true,
		Heaters: []string{"extruder"}}, &fakePWM{}, nil)
	cfg := tachCfg()
	cfg.Action = ActionWarning
	tach := NewTachometer(f, cfg, nil, zap.NewNop())
	if err := tach.CheckHeaterPolicy(); err == nil {
		t.Error("heater-cooling fan with warning action accepted, want error")
	}

	cfg.Action = ActionShutdown
	tach = NewTachometer(f, cfg, nil, zap.NewNop())
	if err := tach.CheckHeaterPolicy(); err != nil {
		t.Errorf("heater-cooling fan with shutdown action rejected: %v", err)
	}
}
