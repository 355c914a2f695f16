//go:build linux

package gpio

import (
	"strings"
	"testing"
)

func TestRequestLine_InvalidPin(t *testing.T) {
	if _, _, err := requestLine(0); err == nil || !strings.Contains(err.Error(), "invalid pin") {
		t.Fatalf("err=%v want invalid pin", err)
	}
}

func TestWatchRising_NilHandler(t *testing.T) {
	if _, err := WatchRising(17, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNilReceivers(t *testing.T) {
	var o *Output
	if o.State() || o.Close() != nil || o.Set(true) == nil {
		t.Fatalf("nil output should be inert")
	}
	var w *Watch
	if w.Events() != 0 || w.Close() != nil {
		t.Fatalf("nil watch should be inert")
	}
	if _, err := w.Level(); err == nil {
		t.Fatalf("expected error from nil watch")
	}
}
