//go:build linux

package rc

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// SerialPort is a raw tty configured for SBUS (8 data bits, even parity,
// two stop bits).
type SerialPort struct {
	f  *os.File
	fd int
}

// OpenSerial opens path at an arbitrary baud rate using termios2/BOTHER,
// which SBUS's 100000 baud requires.
func OpenSerial(path string, baud int) (*SerialPort, error) {
	if baud <= 0 {
		return nil, fmt.Errorf("rc: invalid baud %d", baud)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("rc: open %s: %w", path, err)
	}

	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS2)
	if err != nil {
		return nil, fmt.Errorf("rc: get termios: %w", err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARODD | unix.CRTSCTS
	t.Cflag |= unix.CS8 | unix.PARENB | unix.CSTOPB | unix.CLOCAL | unix.CREAD

	// Return whatever is buffered, or after 100 ms with nothing, so the
	// reader loop can observe cancellation.
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 1

	t.Cflag &^= unix.CBAUD
	t.Cflag |= unix.BOTHER
	t.Ispeed = uint32(baud)
	t.Ospeed = uint32(baud)

	if err := unix.IoctlSetTermios(fd, unix.TCSETS2, t); err != nil {
		return nil, fmt.Errorf("rc: set termios: %w", err)
	}

	f := os.NewFile(uintptr(fd), path)
	if f == nil {
		return nil, fmt.Errorf("rc: os.NewFile failed")
	}
	ok = true
	return &SerialPort{f: f, fd: fd}, nil
}

func (p *SerialPort) Read(b []byte) (int, error) {
	n, err := p.f.Read(b)
	if n == 0 && errors.Is(err, io.EOF) {
		// VTIME expiry with no data; a raw tty has no end of file.
		return 0, nil
	}
	return n, err
}

func (p *SerialPort) Flush() error {
	return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIFLUSH)
}

// Close may run while Read is blocked; the pending Read then fails with
// os.ErrClosed.
func (p *SerialPort) Close() error {
	if p == nil || p.f == nil {
		return nil
	}
	return p.f.Close()
}
