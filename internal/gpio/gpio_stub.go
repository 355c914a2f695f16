//go:build !linux

package gpio

import "fmt"

type Output struct{}

func OpenOutput(pin int) (*Output, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}

func (o *Output) Set(on bool) error { return fmt.Errorf("gpio: unsupported on this platform") }
func (o *Output) State() bool       { return false }
func (o *Output) Close() error      { return nil }

type Watch struct{}

func WatchRising(pin int, fn func()) (*Watch, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}

func (w *Watch) Level() (bool, error) { return false, fmt.Errorf("gpio: unsupported on this platform") }
func (w *Watch) Events() uint64       { return 0 }
func (w *Watch) Close() error         { return nil }
