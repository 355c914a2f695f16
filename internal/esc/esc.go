// Package esc drives electronic speed controllers from Linux sysfs PWM
// channels, one channel per motor, with a standard 1000-2000 us pulse.
package esc

import (
	"context"
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

	"flightcore/internal/actuator"
)

var (
	pwmSysfsBase = "/sys/class/pwm"
	sysfsRetry   = 2 * time.Second
	exportWait   = 500 * time.Millisecond
)

type Config struct {
	// Chip is a pwmchip name under the sysfs base; empty picks the first
	// chip with enough channels.
	Chip        string
	Channels    int
	FrequencyHz int
	MinPulse    time.Duration
	MaxPulse    time.Duration
	// ArmDelay is how long Arm holds the minimum pulse.
	ArmDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Channels:    4,
		FrequencyHz: 400,
		MinPulse:    1000 * time.Microsecond,
		MaxPulse:    2000 * time.Microsecond,
		ArmDelay:    2 * time.Second,
	}
}

func (c *Config) applyDefaults() error {
	def := DefaultConfig()
	if c.Channels <= 0 {
		c.Channels = def.Channels
	}
	if c.FrequencyHz <= 0 {
		c.FrequencyHz = def.FrequencyHz
	}
	if c.MinPulse <= 0 {
		c.MinPulse = def.MinPulse
	}
	if c.MaxPulse <= 0 {
		c.MaxPulse = def.MaxPulse
	}
	if c.ArmDelay < 0 {
		c.ArmDelay = 0
	}
	if c.MaxPulse <= c.MinPulse {
		return fmt.Errorf("esc: max pulse %s must exceed min pulse %s", c.MaxPulse, c.MinPulse)
	}
	period := time.Second / time.Duration(c.FrequencyHz)
	if c.MaxPulse >= period {
		return fmt.Errorf("esc: max pulse %s does not fit a %d Hz period", c.MaxPulse, c.FrequencyHz)
	}
	return nil
}

// ESC implements actuator.Driver. SetOutput may be called from more than one
// event context.
type ESC struct {
	cfg      Config
	chipPath string
	periodNS uint64

	mu    sync.Mutex
	duty  []uint64
	armed bool
}

// Open exports and enables cfg.Channels PWM channels at the minimum pulse.
func Open(cfg Config) (*ESC, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	chip, err := findPWMChip(cfg.Chip, cfg.Channels)
	if err != nil {
		return nil, err
	}
	e := &ESC{
		cfg:      cfg,
		chipPath: chip,
		periodNS: uint64(time.Second / time.Duration(cfg.FrequencyHz)),
		duty:     make([]uint64, cfg.Channels),
	}
	minNS := uint64(cfg.MinPulse.Nanoseconds())
	for ch := 0; ch < cfg.Channels; ch++ {
		if err := e.ensureExported(ch); err != nil {
			return nil, err
		}
		// Disable before changing period; sysfs rejects a period below the
		// current duty.
		_ = e.writeBool(ch, "enable", false)
		if err := e.writeUint(ch, "duty_cycle", 0); err != nil {
			return nil, err
		}
		if err := e.writeUint(ch, "period", e.periodNS); err != nil {
			return nil, err
		}
		if err := e.writeUint(ch, "duty_cycle", minNS); err != nil {
			return nil, err
		}
		e.duty[ch] = minNS
		if err := e.writeBool(ch, "enable", true); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Arm holds every channel at the minimum pulse for ArmDelay so the ESCs
// recognise zero throttle.
func (e *ESC) Arm(ctx context.Context) error {
	if e == nil {
		return fmt.Errorf("esc: driver is nil")
	}
	if err := e.SetOutput(actuator.Zero(e.cfg.Channels)); err != nil {
		return err
	}
	if e.cfg.ArmDelay > 0 {
		t := time.NewTimer(e.cfg.ArmDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	e.mu.Lock()
	e.armed = true
	e.mu.Unlock()
	return nil
}

func (e *ESC) Armed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armed
}

// SetOutput maps each speed (0..1, clamped, NaN as 0) to a pulse width.
// Channels beyond len(cmd) are stopped.
func (e *ESC) SetOutput(cmd actuator.Command) error {
	if e == nil {
		return fmt.Errorf("esc: driver is nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for ch := range e.duty {
		speed := 0.0
		if ch < len(cmd) {
			speed = cmd[ch]
		}
		ns := e.pulseNS(speed)
		if ns == e.duty[ch] {
			continue
		}
		if err := e.writeUint(ch, "duty_cycle", ns); err != nil {
			errs = append(errs, err)
			continue
		}
		e.duty[ch] = ns
	}
	return errors.Join(errs...)
}

// Pulses returns the current pulse width per channel.
func (e *ESC) Pulses() []time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]time.Duration, len(e.duty))
	for i, ns := range e.duty {
		out[i] = time.Duration(ns)
	}
	return out
}

// Close stops every motor and disables the channels.
func (e *ESC) Close() error {
	if e == nil {
		return nil
	}
	err := e.SetOutput(nil)
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for ch := range e.duty {
		if werr := e.writeBool(ch, "enable", false); werr != nil {
			errs = append(errs, werr)
		}
	}
	e.armed = false
	return errors.Join(errs...)
}

func (e *ESC) pulseNS(speed float64) uint64 {
	if math.IsNaN(speed) || speed < 0 {
		speed = 0
	} else if speed > 1 {
		speed = 1
	}
	lo := float64(e.cfg.MinPulse.Nanoseconds())
	hi := float64(e.cfg.MaxPulse.Nanoseconds())
	return uint64(math.Round(lo + speed*(hi-lo)))
}

func (e *ESC) channelPath(ch int) string {
	return filepath.Join(e.chipPath, fmt.Sprintf("pwm%d", ch))
}

func (e *ESC) ensureExported(ch int) error {
	path := e.channelPath(ch)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := writeSysfs(filepath.Join(e.chipPath, "export"), strconv.Itoa(ch)); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil
		}
		return fmt.Errorf("esc: export pwm%d: %w", ch, err)
	}
	deadline := time.Now().Add(exportWait)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("esc: pwm%d not created after export: %w", ch, err)
	}
	return nil
}

func (e *ESC) writeUint(ch int, name string, v uint64) error {
	if err := writeSysfs(filepath.Join(e.channelPath(ch), name), strconv.FormatUint(v, 10)); err != nil {
		return fmt.Errorf("esc: pwm%d %s: %w", ch, name, err)
	}
	return nil
}

func (e *ESC) writeBool(ch int, name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	if err := writeSysfs(filepath.Join(e.channelPath(ch), name), val); err != nil {
		return fmt.Errorf("esc: pwm%d %s: %w", ch, name, err)
	}
	return nil
}

// findPWMChip returns the named chip, or the first chip (pwmchip0 first)
// exposing at least channels outputs. sysfs pwmchipN entries are usually
// symlinks.
func findPWMChip(name string, channels int) (string, error) {
	base := pwmSysfsBase
	if name != "" {
		chip := filepath.Join(base, name)
		n, err := readInt(filepath.Join(chip, "npwm"))
		if err != nil {
			return "", fmt.Errorf("esc: %s: %w", chip, err)
		}
		if n < channels {
			return "", fmt.Errorf("esc: %s has %d channels, need %d", chip, n, channels)
		}
		return chip, nil
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("esc: read %s: %w", base, err)
	}
	var candidates []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pwmchip") {
			candidates = append(candidates, e.Name())
		}
	}
	// ReadDir sorts by name, so pwmchip0 comes first.
	for _, c := range candidates {
		chip := filepath.Join(base, c)
		n, rerr := readInt(filepath.Join(chip, "npwm"))
		if rerr != nil || n < channels {
			continue
		}
		return chip, nil
	}
	return "", fmt.Errorf("esc: no sysfs pwmchip with %d channels (is the pwm overlay enabled?)", channels)
}

// writeSysfs opens without O_TRUNC/O_CREATE, which some attributes reject,
// and retries briefly while udev fixes permissions on freshly exported
// nodes.
func writeSysfs(path string, value string) error {
	deadline := time.Now().Add(sysfsRetry)
	for {
		err := writeOnce(path, value)
		if err == nil {
			return nil
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return err
	}
}

func writeOnce(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value)
	return errors.Join(werr, f.Close())
}

func isRetryableSysfsErr(err error) bool {
	return errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.Atoi(s)
}
