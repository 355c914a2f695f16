package rc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// Port is the serial line a receiver is attached to.
type Port interface {
	io.Reader
	// Flush discards bytes received but not yet read.
	Flush() error
	Close() error
}

// Reader pumps bytes from a Port through a Decoder and delivers frames.
//
// Restart may be called from any goroutine; the decoder itself is only
// touched by Run.
type Reader struct {
	port    Port
	dec     *Decoder
	onFrame func(Frame)

	restart  atomic.Bool
	restarts atomic.Uint64
	readErrs atomic.Uint64
}

func NewReader(port Port, chmap ChannelMap, onFrame func(Frame)) *Reader {
	return &Reader{port: port, dec: NewDecoder(chmap), onFrame: onFrame}
}

// Restart aborts the frame in progress and re-arms reception: pending input
// is flushed and the decoder waits for the next header.
func (r *Reader) Restart() error {
	if r == nil {
		return fmt.Errorf("rc: reader is nil")
	}
	r.restart.Store(true)
	r.restarts.Add(1)
	if r.port == nil {
		return nil
	}
	if err := r.port.Flush(); err != nil {
		return fmt.Errorf("rc: flush: %w", err)
	}
	return nil
}

func (r *Reader) Restarts() uint64 { return r.restarts.Load() }
func (r *Reader) ReadErrors() uint64 { return r.readErrs.Load() }

// Run reads until ctx is done or the port is closed.
func (r *Reader) Run(ctx context.Context) error {
	if r == nil || r.port == nil {
		return fmt.Errorf("rc: reader has no port")
	}
	buf := make([]byte, 64)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := r.port.Read(buf)
		if r.restart.Swap(false) {
			r.dec.Reset()
			// Bytes read alongside the restart belong to the aborted frame.
			n = 0
		}
		for _, b := range buf[:n] {
			if f, ok := r.dec.Feed(b); ok && r.onFrame != nil {
				r.onFrame(f)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return err
			}
			r.readErrs.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}
