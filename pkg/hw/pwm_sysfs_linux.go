//go:build linux

package hw

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// sysfsPWM drives a hardware PWM channel through /sys/class/pwm. On a
// Raspberry Pi this needs the pwm overlay enabled so the channel is exposed
// under a pwmchip.
type sysfsPWM struct {
	chipPath string // /sys/class/pwm/pwmchipN
	pwmPath  string // /sys/class/pwm/pwmchipN/pwmM
	channel  int

	mu       sync.Mutex
	periodNS uint64
	enabled  bool
}

var pwmSysfsBase = "/sys/class/pwm"

// OpenSysfsPWM exports and opens PWM channel on the first usable pwmchip.
func OpenSysfsPWM(channel int) (DutyWriter, error) {
	chipPath, err := findPWMChip()
	if err != nil {
		return nil, err
	}
	d := &sysfsPWM{
		chipPath: chipPath,
		channel:  channel,
		pwmPath:  filepath.Join(chipPath, fmt.Sprintf("pwm%d", channel)),
	}
	if err := d.ensureExported(); err != nil {
		return nil, err
	}
	_ = d.writeBool("enable", false)
	return d, nil
}

func findPWMChip() (string, error) {
	entries, err := os.ReadDir(pwmSysfsBase)
	if err != nil {
		return "", fmt.Errorf("hw: read %s: %w", pwmSysfsBase, err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pwmchip") {
			names = append(names, e.Name())
		}
	}
	// pwmchip0 first when present.
	for i, n := range names {
		if n == "pwmchip0" && i != 0 {
			names[0], names[i] = names[i], names[0]
		}
	}
	for _, name := range names {
		chip := filepath.Join(pwmSysfsBase, name)
		if n, err := readSysfsInt(filepath.Join(chip, "npwm")); err == nil && n > 0 {
			return chip, nil
		}
	}
	return "", fmt.Errorf("hw: no usable pwmchip under %s (is the pwm overlay enabled?)", pwmSysfsBase)
}

func (d *sysfsPWM) ensureExported() error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	exportPath := filepath.Join(d.chipPath, "export")
	if err := writeSysfs(exportPath, strconv.Itoa(d.channel)); err != nil {
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("hw: export pwm%d: %w", d.channel, err)
	}
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	_, err := os.Stat(d.pwmPath)
	if err != nil {
		return fmt.Errorf("hw: pwm%d not created after export: %w", d.channel, err)
	}
	return nil
}

func (d *sysfsPWM) Configure(cycleTime float64, hardwarePWM bool) error {
	if cycleTime <= 0 {
		return fmt.Errorf("hw: invalid pwm cycle time %v", cycleTime)
	}
	periodNS := uint64(cycleTime * 1e9)
	if periodNS == 0 {
		periodNS = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	// The kernel rejects period changes while the channel is enabled.
	_ = d.writeBool("enable", false)
	d.enabled = false
	if err := d.writeUint("period", periodNS); err != nil {
		return err
	}
	d.periodNS = periodNS
	return nil
}

func (d *sysfsPWM) SetDuty(duty float64) error {
	if duty < 0 {
		duty = 0
	} else if duty > 1 {
		duty = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.periodNS == 0 {
		return fmt.Errorf("hw: pwm channel not configured")
	}
	ns := uint64(math.Round(float64(d.periodNS) * duty))
	if ns > d.periodNS {
		ns = d.periodNS
	}
	if err := d.writeUint("duty_cycle", ns); err != nil {
		return err
	}
	if !d.enabled {
		if err := d.writeBool("enable", true); err != nil {
			return err
		}
		d.enabled = true
	}
	return nil
}

func (d *sysfsPWM) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.writeUint("duty_cycle", 0)
	err := d.writeBool("enable", false)
	d.enabled = false
	return err
}

func (d *sysfsPWM) writeUint(name string, v uint64) error {
	return writeSysfs(filepath.Join(d.pwmPath, name), strconv.FormatUint(v, 10))
}

func (d *sysfsPWM) writeBool(name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return writeSysfs(filepath.Join(d.pwmPath, name), val)
}

// writeSysfs opens with plain O_WRONLY: sysfs attributes can reject
// truncation flags. Right after export, udev may still be fixing up
// permissions, so EACCES/ENOENT are retried briefly.
func writeSysfs(path, value string) error {
	deadline := time.Now().Add(2 * time.Second)
	for {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err == nil {
			_, werr := f.WriteString(value)
			cerr := f.Close()
			if werr == nil && cerr == nil {
				return nil
			}
			err = werr
			if err == nil {
				err = cerr
			}
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return err
	}
}

func isRetryableSysfsErr(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) ||
		errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.ENOENT)
}

func readSysfsInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}
