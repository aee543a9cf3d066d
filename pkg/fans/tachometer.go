package fans

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ShutdownFunc requests an emergency machine shutdown with a reason.
type ShutdownFunc func(reason string)

// Tachometer watches a fan's pulse frequency for stalls. Sample is called
// periodically with the measured pulse frequency; when the fan is commanded
// on but reports zero RPM for longer than the loss interval, the configured
// fault action fires.
type Tachometer struct {
	fan  *Fan
	log  *zap.Logger
	name string

	ppr           int
	lossInterval  float64
	action        string
	warningRepeat float64
	shutdown      ShutdownFunc

	mu            sync.Mutex
	onWarn        func()
	rpm           float64
	lossStart     float64
	inLoss        bool
	lastWarning   float64
	warningIssued bool
}

// NewTachometer creates a stall monitor for fan. shutdown may be nil when
// the action is not "shutdown".
func NewTachometer(fan *Fan, cfg *TachConfig, shutdown ShutdownFunc, log *zap.Logger) *Tachometer {
	return &Tachometer{
		fan:           fan,
		log:           log,
		name:          fan.Name(),
		ppr:           cfg.PPR,
		lossInterval:  cfg.LossInterval,
		action:        cfg.Action,
		warningRepeat: cfg.WarningRepeat,
		shutdown:      shutdown,
	}
}

// SetWarnHook installs a function called each time a stall warning is
// emitted.
func (t *Tachometer) SetWarnHook(fn func()) {
	t.mu.Lock()
	t.onWarn = fn
	t.mu.Unlock()
}

// CheckHeaterPolicy validates that a fan cooling a heater uses the shutdown
// fault action. Called once wiring is complete.
func (t *Tachometer) CheckHeaterPolicy() error {
	if len(t.fan.Heaters()) > 0 && t.action != ActionShutdown {
		return fmt.Errorf("%s controls a heater so must have a tach_loss_action of 'shutdown'", t.name)
	}
	return nil
}

// Sample records a pulse frequency reading taken at eventtime and evaluates
// the stall condition against the fan's commanded speed.
func (t *Tachometer) Sample(eventtime, freq float64) {
	rpm := freq * 30.0 / float64(t.ppr)
	speed := t.fan.Speed()

	t.mu.Lock()
	t.rpm = rpm
	if rpm > 0 && t.inLoss {
		t.inLoss = false
	}
	fire := false
	if rpm == 0 && speed > 0 {
		if !t.inLoss {
			t.inLoss = true
			t.lossStart = eventtime
		} else if eventtime-t.lossStart > t.lossInterval {
			fire = true
		}
	}
	t.mu.Unlock()

	if fire {
		t.act(eventtime)
	}
}

// RPM returns the last computed rotational speed.
func (t *Tachometer) RPM() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rpm
}

func (t *Tachometer) act(eventtime float64) {
	switch t.action {
	case ActionShutdown:
		if t.shutdown != nil {
			t.shutdown(fmt.Sprintf(
				"Tach signal lost on %s for longer than %g seconds.",
				t.name, t.lossInterval))
		}
	case ActionWarning:
		t.warn(eventtime)
	}
}

// warn emits the stall warning. A repeat interval of zero means warn once
// and stay silent afterwards.
func (t *Tachometer) warn(eventtime float64) {
	t.mu.Lock()
	if t.warningRepeat == 0 && t.warningIssued {
		t.mu.Unlock()
		return
	}
	interval := eventtime - t.lastWarning
	if t.lastWarning != 0 && interval < t.warningRepeat {
		t.mu.Unlock()
		return
	}
	t.lastWarning = eventtime
	t.warningIssued = true
	hook := t.onWarn
	t.mu.Unlock()

	t.log.Warn("fan has lost tach signal",
		zap.String("fan", t.name),
		zap.Float64("loss_interval", t.lossInterval))
	if hook != nil {
		hook()
	}
}
