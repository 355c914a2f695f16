//go:build !linux

package rc

import "fmt"

type SerialPort struct{}

func OpenSerial(path string, baud int) (*SerialPort, error) {
	return nil, fmt.Errorf("rc: serial unsupported on this platform")
}

func (p *SerialPort) Read(b []byte) (int, error) { return 0, fmt.Errorf("rc: serial unsupported") }
func (p *SerialPort) Flush() error               { return nil }
func (p *SerialPort) Close() error               { return nil }
