package engine

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"coolctl/pkg/config"
	"coolctl/pkg/fans"
	"coolctl/pkg/hw"
	"coolctl/pkg/metrics"
	"coolctl/pkg/reactor"
)

func buildEngine(t *testing.T, src string) (*Engine, *reactor.Reactor) {
	t.Helper()
	cfg, err := config.LoadString(src)
	if err != nil {
		t.Fatal(err)
	}
	r := reactor.New()
	e, err := Build(cfg, r, Options{Log: zap.NewNop()})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Connect(); err != nil {
		t.Fatal(err)
	}
	r.Run()
	t.Cleanup(func() {
		e.Close()
		r.End()
		r.Wait()
	})
	return e, r
}

const basicConfig = `
[fan]
pin: pwm0

[fan_generic exhaust]
pin: pwm1
fan_number: 2

[temperature_fan board]
pin: pwm2
sensor_type: manual
sensor_initial_temp: 30
min_temp: 0
max_temp: 100
target_temp: 60
control: watermark
`

func TestBuildBasicConfig(t *testing.T) {
	e, _ := buildEngine(t, basicConfig)
	if e.primary == nil {
		t.Fatal("primary fan missing")
	}
	if _, ok := e.genericFans["exhaust"]; !ok {
		t.Fatal("generic fan missing")
	}
	if _, ok := e.tempFans["board"]; !ok {
		t.Fatal("temperature fan missing")
	}
	if e.State() != StateReady {
		t.Errorf("state = %v, want ready", e.State())
	}
}

func TestBuildRejectsUnknownOption(t *testing.T) {
	cfg, err := config.LoadString("[fan]\npin: pwm0\nspin_harder: yes\n")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Build(cfg, reactor.New(), Options{}); err == nil {
		t.Error("unknown option accepted")
	}
}

func TestBuildRejectsUnknownSection(t *testing.T) {
	cfg, err := config.LoadString("[fan]\npin: pwm0\n\n[flux_capacitor]\npin: pwm1\n")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Build(cfg, reactor.New(), Options{}); err == nil {
		t.Error("unknown section accepted")
	}
}

func TestBuildRejectsDuplicateFanNumber(t *testing.T) {
	cfg, err := config.LoadString(`
[fan_generic a]
pin: pwm0
fan_number: 2

[fan_generic b]
pin: pwm1
fan_number: 2
`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Build(cfg, reactor.New(), Options{}); err == nil {
		t.Error("duplicate fan_number accepted")
	}
}

func TestBuildRejectsFanNumberZero(t *testing.T) {
	cfg, err := config.LoadString(`
[fan]
pin: pwm0

[fan_generic a]
pin: pwm1
fan_number: 0
`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Build(cfg, reactor.New(), Options{}); err == nil {
		t.Error("fan_number 0 accepted alongside [fan]")
	}
}

// recordingOpener captures the debounce passed for each pulse input.
type recordingOpener struct {
	hw.SimOpener
	debounces []float64
}

func (o *recordingOpener) OpenPulse(pin string, debounce float64) (hw.PulseSource, error) {
	o.debounces = append(o.debounces, debounce)
	return o.SimOpener.OpenPulse(pin, debounce)
}

func TestTachPollIntervalSetsDebounce(t *testing.T) {
	cfg, err := config.LoadString(`
[fan_generic exhaust]
pin: pwm0
tachometer_pin: GPIO4
tachometer_poll_interval: 0.002
`)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recordingOpener{}
	if _, err := Build(cfg, reactor.New(), Options{Opener: rec, Log: zap.NewNop()}); err != nil {
		t.Fatal(err)
	}
	if len(rec.debounces) != 1 || rec.debounces[0] != 0.002 {
		t.Errorf("pulse debounce = %v, want [0.002]", rec.debounces)
	}
}

func TestConnectEnforcesHeaterPolicy(t *testing.T) {
	cfg, err := config.LoadString(`
[fan_generic hotend]
pin: pwm0
heater: extruder
tachometer_pin: GPIO4
tach_loss_action: warning
`)
	if err != nil {
		t.Fatal(err)
	}
	e, err := Build(cfg, reactor.New(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Connect(); err == nil {
		t.Error("heater-cooling fan with warning action passed Connect")
	}
}

func TestCommands(t *testing.T) {
	e, _ := buildEngine(t, basicConfig)

	if err := e.SetFanSpeed("exhaust", 0.5); err != nil {
		t.Fatal(err)
	}
	if got := e.genericFans["exhaust"].Speed(); got != 0.5 {
		t.Errorf("exhaust speed = %v, want 0.5", got)
	}
	if err := e.SetFanSpeed("nope", 0.5); err == nil {
		t.Error("unknown fan accepted")
	}

	s := 127.5
	if err := e.M106(nil, &s); err != nil {
		t.Fatal(err)
	}
	if got := e.primary.Speed(); got != 0.5 {
		t.Errorf("primary speed after M106 S127.5 = %v, want 0.5", got)
	}

	frac := 0.25
	idx := 2
	if err := e.M106(&idx, &frac); err != nil {
		t.Fatal(err)
	}
	if got := e.genericFans["exhaust"].Speed(); got != 0.25 {
		t.Errorf("T2 speed after fractional M106 = %v, want 0.25", got)
	}

	if err := e.M107(nil); err != nil {
		t.Fatal(err)
	}
	if got := e.primary.Speed(); got != 0 {
		t.Errorf("primary speed after M107 = %v, want 0", got)
	}

	bad := 9
	if err := e.M106(&bad, nil); err == nil || !strings.Contains(err.Error(), "T9") {
		t.Errorf("invalid fan number error = %v", err)
	}

	target := 70.0
	if err := e.SetTemperatureFanTarget("board", fans.AdjustParams{Target: &target}); err != nil {
		t.Fatal(err)
	}
	if got := e.tempFans["board"].Target(); got != 70 {
		t.Errorf("target = %v, want 70", got)
	}
}

func TestMetricsWiring(t *testing.T) {
	cfg, err := config.LoadString(basicConfig)
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.NewFanMetrics()
	r := reactor.New()
	e, err := Build(cfg, r, Options{Log: zap.NewNop(), Metrics: m})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Connect(); err != nil {
		t.Fatal(err)
	}
	r.Run()
	t.Cleanup(func() {
		e.Close()
		r.End()
		r.Wait()
	})

	if err := e.SetFanSpeed("exhaust", 0.5); err != nil {
		t.Fatal(err)
	}
	if got := m.CommandsTotal.Get(metrics.Labels{"command": "set_fan_speed"}); got != 1 {
		t.Errorf("set_fan_speed count = %d, want 1", got)
	}

	e.updateMetrics(0)
	if got := m.FanSpeed.Get(metrics.Labels{"fan": "fan_generic exhaust"}); got != 0.5 {
		t.Errorf("fan speed gauge = %v, want 0.5", got)
	}
	if got := m.TargetTemperature.Get(metrics.Labels{"sensor": "board"}); got != 60 {
		t.Errorf("target gauge = %v, want 60", got)
	}

	e.InvokeShutdown("fault")
	e.InvokeShutdown("fault again")
	if got := m.ShutdownEvents.Get(nil); got != 1 {
		t.Errorf("shutdown events = %d, want 1", got)
	}
}

func TestShutdownBlocksCommands(t *testing.T) {
	e, _ := buildEngine(t, basicConfig)

	e.InvokeShutdown("test fault")
	e.InvokeShutdown("second fault")
	if e.State() != StateShutdown {
		t.Fatalf("state = %v, want shutdown", e.State())
	}
	if got := e.coord.Message(); got != "test fault" {
		t.Errorf("shutdown message = %q, want the first reason", got)
	}
	if err := e.SetFanSpeed("exhaust", 1); err == nil {
		t.Error("command accepted after shutdown")
	}
	if err := e.M106(nil, nil); err == nil {
		t.Error("M106 accepted after shutdown")
	}
}

func TestOnRestartStopsFans(t *testing.T) {
	e, _ := buildEngine(t, basicConfig)

	if err := e.SetFanSpeed("exhaust", 0.8); err != nil {
		t.Fatal(err)
	}
	e.OnRestart()
	if got := e.genericFans["exhaust"].Speed(); got != 0 {
		t.Errorf("speed after restart = %v, want 0", got)
	}
}

func TestStatusReport(t *testing.T) {
	e, _ := buildEngine(t, basicConfig)

	if err := e.SetFanSpeed("exhaust", 0.4); err != nil {
		t.Fatal(err)
	}
	// Give the sensor poller a moment to deliver the first reading.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := e.Status(); st.TempFans["board"].Temperature == 30 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	st := e.Status()
	if st.State != "ready" {
		t.Errorf("status state = %q, want ready", st.State)
	}
	if st.Fan == nil {
		t.Fatal("primary fan status missing")
	}
	if st.Fans["exhaust"].Speed != 0.4 {
		t.Errorf("exhaust status speed = %v, want 0.4", st.Fans["exhaust"].Speed)
	}
	if st.TempFans["board"].Target != 60 {
		t.Errorf("board target = %v, want 60", st.TempFans["board"].Target)
	}
}
