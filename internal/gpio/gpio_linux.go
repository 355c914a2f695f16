//go:build linux

// Package gpio drives the status LED and watches the IMU data-ready line
// through the Linux GPIO character device.
package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "flightcore"

// requestLine finds the BCM pin by its line name ("GPIO17") on whichever
// chip exposes it and requests it with opts.
func requestLine(pin int, opts ...gpiocdev.LineReqOption) (*gpiocdev.Chip, *gpiocdev.Line, error) {
	if pin <= 0 {
		return nil, nil, fmt.Errorf("gpio: invalid pin %d", pin)
	}
	lineName := fmt.Sprintf("GPIO%d", pin)

	// Pi 5 kernels can expose the header on gpiochip4.
	candidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			candidates = append(candidates, filepath.Join("/dev", e.Name()))
		}
	}

	opts = append(opts, gpiocdev.WithConsumer(consumer))
	for _, path := range candidates {
		chip, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return chip, line, nil
	}
	return nil, nil, fmt.Errorf("gpio: line %q not found (or busy)", lineName)
}

// Output is a digital output line.
type Output struct {
	chip  *gpiocdev.Chip
	line  *gpiocdev.Line
	state atomic.Bool
}

// OpenOutput requests pin as an output driven low.
func OpenOutput(pin int) (*Output, error) {
	chip, line, err := requestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, err
	}
	return &Output{chip: chip, line: line}, nil
}

func (o *Output) Set(on bool) error {
	if o == nil || o.line == nil {
		return fmt.Errorf("gpio: output not initialized")
	}
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("gpio: set: %w", err)
	}
	o.state.Store(on)
	return nil
}

func (o *Output) State() bool { return o != nil && o.state.Load() }

// Close drives the line low and releases it.
func (o *Output) Close() error {
	if o == nil || o.line == nil {
		return nil
	}
	_ = o.line.SetValue(0)
	err := o.line.Close()
	o.line = nil
	if o.chip != nil {
		_ = o.chip.Close()
		o.chip = nil
	}
	return err
}

// Watch invokes a handler on each rising edge of an input line. The
// handler runs on the gpiocdev event goroutine and must not block.
type Watch struct {
	chip   *gpiocdev.Chip
	line   *gpiocdev.Line
	events atomic.Uint64
}

// WatchRising requests pin as an input and calls fn on every rising edge.
func WatchRising(pin int, fn func()) (*Watch, error) {
	if fn == nil {
		return nil, fmt.Errorf("gpio: handler is nil")
	}
	w := &Watch{}
	handler := func(gpiocdev.LineEvent) {
		w.events.Add(1)
		fn()
	}
	chip, line, err := requestLine(pin, gpiocdev.AsInput, gpiocdev.WithRisingEdge, gpiocdev.WithEventHandler(handler))
	if err != nil {
		return nil, err
	}
	w.chip, w.line = chip, line
	return w, nil
}

// Level reads the current line value.
func (w *Watch) Level() (bool, error) {
	if w == nil || w.line == nil {
		return false, fmt.Errorf("gpio: watch not initialized")
	}
	v, err := w.line.Value()
	if err != nil {
		return false, fmt.Errorf("gpio: read: %w", err)
	}
	return v != 0, nil
}

func (w *Watch) Events() uint64 {
	if w == nil {
		return 0
	}
	return w.events.Load()
}

func (w *Watch) Close() error {
	if w == nil || w.line == nil {
		return nil
	}
	err := w.line.Close()
	w.line = nil
	if w.chip != nil {
		_ = w.chip.Close()
		w.chip = nil
	}
	return err
}
