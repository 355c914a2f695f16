package udp

import (
	"errors"
	"net"
	"testing"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	closeErr  error
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

func TestNewBroadcaster_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}

	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return fc, nil
	}

	b, err := newBroadcaster("127.0.0.1:14550", net.ResolveUDPAddr, dial)
	if err != nil {
		t.Fatalf("newBroadcaster() error: %v", err)
	}
	defer b.Close()

	if gotNetwork != "udp" {
		t.Fatalf("network=%q want %q", gotNetwork, "udp")
	}
	if gotRaddr == nil || gotRaddr.Port != 14550 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:14550", gotRaddr)
	}
	if b.Dest() != "127.0.0.1:14550" {
		t.Fatalf("dest=%q", b.Dest())
	}
}

func TestNewBroadcaster_Failures(t *testing.T) {
	resolveErr := errors.New("nope")
	dialErr := errors.New("unreachable")
	okResolve := func(network, address string) (*net.UDPAddr, error) { return &net.UDPAddr{}, nil }
	okDial := func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) { return &fakeConn{}, nil }

	_, err := newBroadcaster("bad:addr", func(string, string) (*net.UDPAddr, error) { return nil, resolveErr }, okDial)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
	_, err = newBroadcaster("x:1", okResolve, func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) { return nil, dialErr })
	if !errors.Is(err, dialErr) {
		t.Fatalf("err=%v want %v", err, dialErr)
	}
	if _, err := newBroadcaster("", okResolve, okDial); err == nil {
		t.Fatalf("expected error for empty dest")
	}
}

func TestBroadcaster_Send(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}

	if err := b.Send(nil); err != nil {
		t.Fatalf("Send(nil) error: %v", err)
	}
	if fc.writeHits != 0 {
		t.Fatalf("expected no writes, got %d", fc.writeHits)
	}
	p := []byte("2026-01-01T00:00:00Z runtime rc frame lost\n")
	if err := b.Send(p); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(fc.writes) != 1 || string(fc.writes[0]) != string(p) {
		t.Fatalf("writes=%q", fc.writes)
	}
	if sent, failed := b.Stats(); sent != 1 || failed != 0 {
		t.Fatalf("sent=%d failed=%d", sent, failed)
	}
}

func TestBroadcaster_Send_PropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	b := &Broadcaster{dest: "x", conn: &fakeConn{writeErr: wantErr}}
	if err := b.Send([]byte{0x01}); !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
	if _, failed := b.Stats(); failed != 1 {
		t.Fatalf("failed=%d want 1", failed)
	}
}

func TestBroadcaster_Close(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}
	if err := b.Close(); err != nil || !fc.closed {
		t.Fatalf("Close err=%v closed=%v", err, fc.closed)
	}
	if err := b.Send([]byte{1}); err == nil {
		t.Fatalf("expected error after close")
	}
	if err := (&Broadcaster{}).Close(); err != nil {
		t.Fatalf("Close() on empty: %v", err)
	}
}
