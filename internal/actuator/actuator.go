// Package actuator defines per-channel speed commands and the failsafe
// output gate that sits in front of the actuator driver.
package actuator

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Command is one speed value per output channel, 0 (stopped) to 1 (full).
// The control path treats it as opaque and forwards it unchanged.
type Command []float64

// Zero returns a stopped command for n channels.
func Zero(n int) Command {
	return make(Command, n)
}

func (c Command) IsZero() bool {
	for _, v := range c {
		if v != 0 {
			return false
		}
	}
	return true
}

func (c Command) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range c {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatFloat(v, 'f', 3, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// Driver accepts speed commands. Implementations must tolerate calls from
// more than one event context.
type Driver interface {
	SetOutput(Command) error
}

// Gate forwards commands to a Driver unless a failsafe is engaged, in which
// case the driver is held at zero.
//
// Engage writes zero after raising the flag and SetOutput re-checks the flag
// after writing, so whichever side writes last leaves the driver stopped
// while the flag is up.
type Gate struct {
	drv      Driver
	channels int

	engaged atomic.Bool
	writes  atomic.Uint64
	errs    atomic.Uint64
	lastErr atomic.Pointer[string]
}

func NewGate(drv Driver, channels int) *Gate {
	if channels <= 0 {
		channels = 4
	}
	return &Gate{drv: drv, channels: channels}
}

// SetOutput forwards cmd, or zero while engaged.
func (g *Gate) SetOutput(cmd Command) error {
	if g == nil || g.drv == nil {
		return fmt.Errorf("actuator: gate has no driver")
	}
	if g.engaged.Load() {
		return g.write(Zero(g.channels))
	}
	if err := g.write(cmd); err != nil {
		return err
	}
	if g.engaged.Load() {
		return g.write(Zero(g.channels))
	}
	return nil
}

// Engage raises the failsafe and forces zero output.
func (g *Gate) Engage() {
	g.engaged.Store(true)
	_ = g.write(Zero(g.channels))
}

// Release lowers the failsafe; the next SetOutput passes through.
func (g *Gate) Release() {
	g.engaged.Store(false)
}

func (g *Gate) Engaged() bool { return g.engaged.Load() }

// Stop writes zero without engaging the failsafe.
func (g *Gate) Stop() error {
	return g.write(Zero(g.channels))
}

// Writes counts driver writes, including forced zeros.
func (g *Gate) Writes() uint64 { return g.writes.Load() }

// LastError returns the most recent driver error text, if any.
func (g *Gate) LastError() string {
	if p := g.lastErr.Load(); p != nil {
		return *p
	}
	return ""
}

func (g *Gate) write(cmd Command) error {
	if g.drv == nil {
		return fmt.Errorf("actuator: gate has no driver")
	}
	g.writes.Add(1)
	if err := g.drv.SetOutput(cmd); err != nil {
		g.errs.Add(1)
		msg := err.Error()
		g.lastErr.Store(&msg)
		return fmt.Errorf("actuator: set output: %w", err)
	}
	return nil
}
