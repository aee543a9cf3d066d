package fans

import (
	"math"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"coolctl/pkg/config"
)

func newTestTempFan(t *testing.T, extra string) (*TemperatureFan, *fakePWM) {
	t.Helper()
	src := "[temperature_fan hotend]\npin: PA0\n" + extra
	cfg, err := config.LoadString(src)
	if err != nil {
		t.Fatal(err)
	}
	sec, err := cfg.Section("temperature_fan hotend")
	if err != nil {
		t.Fatal(err)
	}
	tfc, err := ParseTemperatureFanConfig(sec)
	if err != nil {
		t.Fatal(err)
	}
	pwm := &fakePWM{}
	// four_wire avoids the 3-wire duty rescale so assertions read directly.
	tfc.Fan.FourWire = true
	tfc.Fan.KickStartTime = 0
	fan := NewFan(tfc.Fan, pwm, nil, zap.NewNop())
	tf, err := NewTemperatureFan(tfc, fan, 1.0, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return tf, pwm
}

func lastDuty(t *testing.T, pwm *fakePWM) float64 {
	t.Helper()
	if len(pwm.events) == 0 {
		t.Fatal("no pwm events scheduled")
	}
	return pwm.events[len(pwm.events)-1].duty
}

func TestBangBangHysteresis(t *testing.T) {
	tf, pwm := newTestTempFan(t, `
min_temp: 0
max_temp: 100
target_temp: 60
control: watermark
max_delta: 5
min_speed: 0
`)
	// Not yet heating: fan runs at max speed.
	tf.TemperatureCallback(10.0, 58.0)
	if got := lastDuty(t, pwm); got != 1.0 {
		t.Fatalf("duty at 58C = %v, want 1.0", got)
	}
	// Falls to target-max_delta: heating starts, fan off.
	tf.TemperatureCallback(20.0, 54.0)
	if got := lastDuty(t, pwm); got != 0 {
		t.Fatalf("duty at 54C = %v, want 0", got)
	}
	// Still below target+max_delta: stays off.
	tf.TemperatureCallback(30.0, 64.0)
	if got := lastDuty(t, pwm); got != 0 {
		t.Fatalf("duty at 64C = %v, want 0", got)
	}
	// Overshoots target+max_delta: back to max speed.
	tf.TemperatureCallback(40.0, 66.0)
	if got := lastDuty(t, pwm); got != 1.0 {
		t.Fatalf("duty at 66C = %v, want 1.0", got)
	}
}

func TestPIDOutputInversion(t *testing.T) {
	tf, pwm := newTestTempFan(t, `
min_temp: 0
max_temp: 100
target_temp: 50
control: pid
pid_Kp: 255
pid_Ki: 0
pid_Kd: 0
min_speed: 0.1
`)
	// Well below target: large positive control output, fan at min speed.
	tf.TemperatureCallback(10.0, 30.0)
	if got := lastDuty(t, pwm); got != 0.1 {
		t.Fatalf("duty below target = %v, want min_speed 0.1", got)
	}
	// Above target: negative control output bounded to 0, fan at max speed.
	tf.TemperatureCallback(20.0, 70.0)
	if got := lastDuty(t, pwm); got != 1.0 {
		t.Fatalf("duty above target = %v, want max_speed 1.0", got)
	}
}

func TestPIDDerivativeFilter(t *testing.T) {
	tf, _ := newTestTempFan(t, `
min_temp: 0
max_temp: 100
target_temp: 50
control: pid
pid_Kp: 255
pid_Ki: 0
pid_Kd: 255
min_speed: 0
`)
	c := tf.control.(*ControlPID)
	// Samples further apart than pid_deriv_time (2.0) use the plain
	// difference quotient.
	tf.TemperatureCallback(10.0, 30.0)
	if got := c.prevTempDeriv; got != 0.5 {
		t.Fatalf("deriv after slow sample = %v, want (30-25)/10 = 0.5", got)
	}
	// A sample inside the window blends the new difference with the previous
	// derivative over the filter time.
	tf.TemperatureCallback(10.5, 31.0)
	want := (0.5*(2.0-0.5) + 1.0) / 2.0
	if got := c.prevTempDeriv; math.Abs(got-want) > 1e-12 {
		t.Errorf("filtered deriv = %v, want %v", got, want)
	}
}

func TestMinTempNearAmbientWarns(t *testing.T) {
	cases := []struct {
		minTemp string
		want    int
	}{
		{"40", 1},
		{"0", 0},
	}
	for _, tc := range cases {
		core, logs := observer.New(zap.WarnLevel)
		src := "[temperature_fan hotend]\npin: PA0\nmin_temp: " + tc.minTemp +
			"\nmax_temp: 100\ncontrol: watermark\n"
		cfg, err := config.LoadString(src)
		if err != nil {
			t.Fatal(err)
		}
		sec, err := cfg.Section("temperature_fan hotend")
		if err != nil {
			t.Fatal(err)
		}
		tfc, err := ParseTemperatureFanConfig(sec)
		if err != nil {
			t.Fatal(err)
		}
		fan := NewFan(tfc.Fan, &fakePWM{}, nil, zap.NewNop())
		if _, err := NewTemperatureFan(tfc, fan, 1.0, zap.New(core)); err != nil {
			t.Fatal(err)
		}
		if got := logs.Len(); got != tc.want {
			t.Errorf("min_temp %s: got %d warnings, want %d", tc.minTemp, got, tc.want)
		}
	}
}

func TestPIDCutoffBypass(t *testing.T) {
	tf, pwm := newTestTempFan(t, `
min_temp: 0
max_temp: 100
target_temp: 50
min_temp_cutoff: 20
control: pid
pid_Kp: 255
pid_Ki: 25.5
pid_Kd: 0
min_speed: 0
`)
	c := tf.control.(*ControlPID)
	tf.TemperatureCallback(10.0, 15.0)
	// The fan was already off, so the forced-off request schedules nothing.
	if len(pwm.events) != 0 {
		t.Errorf("duty below cutoff = %v, want fan kept off", lastDuty(t, pwm))
	}
	// The loop state must be untouched by the cutoff path.
	if c.prevTempTime != 0 || c.prevTemp != ambientTemp || c.prevTempInteg != 0 {
		t.Errorf("cutoff bypass mutated pid state: time=%v temp=%v integ=%v",
			c.prevTempTime, c.prevTemp, c.prevTempInteg)
	}
}

func TestPIDAntiWindup(t *testing.T) {
	tf, _ := newTestTempFan(t, `
min_temp: 0
max_temp: 100
target_temp: 50
control: pid
pid_Kp: 255
pid_Ki: 25.5
pid_Kd: 0
min_speed: 0
`)
	c := tf.control.(*ControlPID)
	integMax := tf.MaxSpeed() / c.ki

	// Hold far below target for a long stretch: the error integral must
	// stay clamped, and while the output saturates it must not be banked.
	for i := 1; i <= 100; i++ {
		tf.TemperatureCallback(float64(i)*10.0, 10.0)
		if c.prevTempInteg > integMax+1e-9 {
			t.Fatalf("integral %v exceeds clamp %v at step %d", c.prevTempInteg, integMax, i)
		}
	}
	// co = Kp*err + Ki*integ with err=40 is saturated well above max_speed,
	// so no integral should ever have been stored.
	if c.prevTempInteg != 0 {
		t.Errorf("integral banked while output saturated: %v", c.prevTempInteg)
	}
}

func TestSlopeCutoffHysteresis(t *testing.T) {
	tf, pwm := newTestTempFan(t, `
min_temp: 0
max_temp: 100
target_temp: 60
min_temp_cutoff: 50
control: slope
slope: linear
min_speed: 0.3
`)
	// Below cutoff-0.5: off. The fan never started, so nothing is scheduled.
	tf.TemperatureCallback(10.0, 49.4)
	if len(pwm.events) != 0 {
		t.Fatalf("duty at 49.4C = %v, want fan kept off", lastDuty(t, pwm))
	}
	// Above cutoff+0.5: the curve engages at min speed or better.
	tf.TemperatureCallback(20.0, 50.6)
	if got := lastDuty(t, pwm); got < 0.3 {
		t.Fatalf("duty at 50.6C = %v, want at least min_speed 0.3", got)
	}
	// Inside the band: previous speed holds, nothing new scheduled.
	n := len(pwm.events)
	tf.TemperatureCallback(30.0, 50.0)
	if len(pwm.events) != n {
		t.Errorf("reading inside hysteresis band scheduled a command")
	}
}

func TestSlopeDisplayTarget(t *testing.T) {
	tf, _ := newTestTempFan(t, `
min_temp: 0
max_temp: 100
target_temp: 60
min_temp_cutoff: 50
control: slope
slope: linear
min_speed: 0.3
`)
	tf.TemperatureCallback(10.0, 55.67)
	if got := tf.Target(); got != 55.6 {
		t.Errorf("display target = %v, want 55.6 (truncated)", got)
	}
}

func TestSlopeCurvesMonotonic(t *testing.T) {
	for _, slope := range []string{"linear", "log", "exponential"} {
		tf, pwm := newTestTempFan(t, `
min_temp: 0
max_temp: 100
target_temp: 60
min_temp_cutoff: 30
control: slope
slope: `+slope+`
min_speed: 0.1
`)
		var prev float64
		for i, temp := range []float64{40.0, 55.0, 70.0, 79.0} {
			tf.TemperatureCallback(float64(i+1)*10.0, temp)
			got := lastDuty(t, pwm)
			if got < prev-1e-9 {
				t.Errorf("%s: duty decreased from %v to %v at %vC", slope, prev, got, temp)
			}
			prev = got
		}
	}
}

func TestSpeedGatingRaisesToMinSpeed(t *testing.T) {
	tf, pwm := newTestTempFan(t, `
min_temp: 0
max_temp: 100
target_temp: 60
control: watermark
min_speed: 0.3
`)
	tf.setSpeed(10.0, 0.1)
	if got := lastDuty(t, pwm); got != 0.3 {
		t.Errorf("duty for sub-minimum request = %v, want 0.3", got)
	}
}

func TestSpeedGatingTargetDisabled(t *testing.T) {
	tf, pwm := newTestTempFan(t, `
min_temp: 0
max_temp: 100
target_temp: 60
control: watermark
min_speed: 0.3
`)
	tf.setSpeed(10.0, 0.8)
	if err := tf.SetTarget(0); err != nil {
		t.Fatal(err)
	}
	tf.setSpeed(20.0, 0.8)
	if got := lastDuty(t, pwm); got != 0 {
		t.Errorf("duty with disabled target = %v, want 0", got)
	}
}

func TestSpeedGatingSuppression(t *testing.T) {
	tf, pwm := newTestTempFan(t, `
min_temp: 0
max_temp: 100
target_temp: 60
control: watermark
min_speed: 0
`)
	tf.setSpeed(10.0, 0.5)
	n := len(pwm.events)
	// Inside the hold-off window, a change under 0.05 is suppressed.
	tf.setSpeed(12.0, 0.52)
	if len(pwm.events) != n {
		t.Fatal("small change inside hold-off window was not suppressed")
	}
	// Past the window the same change goes through.
	tf.setSpeed(20.0, 0.52)
	if len(pwm.events) != n+1 {
		t.Fatal("small change past hold-off window was dropped")
	}
	// Speed changes are scheduled one report interval ahead.
	if got := pwm.events[n].time - 20.0; math.Abs(got-1.0) > 1e-9 {
		t.Errorf("speed scheduled %v ahead of read time, want the 1.0 report delay", got)
	}
}

func TestAdjustValidatesBeforeMutation(t *testing.T) {
	tf, _ := newTestTempFan(t, `
min_temp: 0
max_temp: 100
target_temp: 60
control: watermark
min_speed: 0.3
max_speed: 0.9
`)
	bad := AdjustParams{
		Target:   floatPtr(70),
		MinSpeed: floatPtr(0.8),
		MaxSpeed: floatPtr(0.4),
	}
	if err := tf.Adjust(bad); err == nil {
		t.Fatal("min speed above max speed accepted")
	}
	if tf.Target() != 60 || tf.MinSpeed() != 0.3 || tf.MaxSpeed() != 0.9 {
		t.Errorf("rejected request mutated state: target=%v min=%v max=%v",
			tf.Target(), tf.MinSpeed(), tf.MaxSpeed())
	}

	if err := tf.Adjust(AdjustParams{Target: floatPtr(150)}); err == nil {
		t.Error("out-of-range target accepted")
	}
	if err := tf.Adjust(AdjustParams{Target: floatPtr(70), MinSpeed: floatPtr(0.5)}); err != nil {
		t.Fatalf("valid adjust rejected: %v", err)
	}
	if tf.Target() != 70 || tf.MinSpeed() != 0.5 {
		t.Errorf("adjust not applied: target=%v min=%v", tf.Target(), tf.MinSpeed())
	}
}

func TestAdjustDefaultsTargetToConfigured(t *testing.T) {
	tf, _ := newTestTempFan(t, `
min_temp: 0
max_temp: 100
target_temp: 60
control: watermark
`)
	if err := tf.SetTarget(80); err != nil {
		t.Fatal(err)
	}
	if err := tf.Adjust(AdjustParams{}); err != nil {
		t.Fatal(err)
	}
	if tf.Target() != 60 {
		t.Errorf("target after empty adjust = %v, want configured 60", tf.Target())
	}
}

func TestTempFanStatus(t *testing.T) {
	tf, _ := newTestTempFan(t, `
min_temp: 0
max_temp: 100
target_temp: 60
control: watermark
min_speed: 0
`)
	tf.TemperatureCallback(10.0, 58.125)
	st := tf.GetStatus(11.0)
	if st.Temperature != 58.13 {
		t.Errorf("status temperature = %v, want 58.13", st.Temperature)
	}
	if st.Target != 60 {
		t.Errorf("status target = %v, want 60", st.Target)
	}
}

func floatPtr(v float64) *float64 { return &v }
