// Package udp sends diagnostic and telemetry datagrams to a ground station.
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Broadcaster writes each payload as one datagram. It satisfies diag.Writer.
type Broadcaster struct {
	dest string
	conn udpConn

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		// DialUDP picks the local address.
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	if dest == "" {
		return nil, errors.New("udp: dest is required")
	}
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %s: %w", dest, err)
	}
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial %s: %w", dest, err)
	}
	return &Broadcaster{dest: dest, conn: conn}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

// Send writes payload. Empty payloads are skipped.
func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if b == nil || b.conn == nil {
		return errors.New("udp: broadcaster is closed")
	}
	if _, err := b.conn.Write(payload); err != nil {
		b.failed.Add(1)
		return err
	}
	b.sent.Add(1)
	return nil
}

// Stats returns datagrams sent and failed.
func (b *Broadcaster) Stats() (sent, failed uint64) {
	return b.sent.Load(), b.failed.Load()
}

func (b *Broadcaster) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
