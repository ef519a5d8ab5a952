// Package transport defines the byte-channel abstraction the device state
// machine reads framed NETCONF messages from and writes them to. Per
// spec §1, the SSH transport itself is an external collaborator; this
// package states its contract and supplies one concrete implementation
// (SSHDialer) backed by golang.org/x/crypto/ssh.
package transport

import (
	"context"
	"io"
)

// Conn is a bidirectional byte channel to a single device's NETCONF
// subsystem. Read and Write are safe to call concurrently with each
// other, but not with themselves: the device handle owns exactly one
// outstanding Read loop and one in-flight Write at a time.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	// RemoteDesc returns a human-readable description of the remote
	// endpoint, for logging.
	RemoteDesc() string
}

// Dialer opens a Conn to a device's NETCONF subsystem given its address
// and user. It deliberately takes primitive arguments rather than a
// *device.Device to avoid an import cycle between transport and device.
type Dialer interface {
	Dial(ctx context.Context, addr, user string) (Conn, error)
}
