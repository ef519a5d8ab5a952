package transport

import (
	"context"
	"io"
	"net"
)

// FakeConn is an in-memory Conn backed by net.Pipe, used by tests that
// exercise the device state machine without a real SSH server.
type FakeConn struct {
	net.Conn
	desc string
}

// NewFakePair returns two connected FakeConns, one to hand to the device
// handle under test and one for the test to act as the simulated peer.
func NewFakePair(desc string) (client, peer *FakeConn) {
	var a, b = net.Pipe()
	return &FakeConn{Conn: a, desc: desc}, &FakeConn{Conn: b, desc: desc + "-peer"}
}

func (c *FakeConn) RemoteDesc() string { return c.desc }

// FakeDialer always returns a pre-built Conn, ignoring addr/user. It
// exists so tests can inject a FakeConn where the device handle expects a
// Dialer.
type FakeDialer struct {
	Conn Conn
	Err  error
}

func (d *FakeDialer) Dial(ctx context.Context, addr, user string) (Conn, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Conn, nil
}

var _ io.ReadWriteCloser = (*FakeConn)(nil)
