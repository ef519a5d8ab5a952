package transport

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// SSHDialer opens the "netconf" SSH subsystem on a device, per RFC 6242.
// Config's HostKeyCallback is expected to be supplied by the caller (from
// a known-hosts file or an operator-managed trust store); this package
// does not itself persist or fetch host keys.
type SSHDialer struct {
	Config *ssh.ClientConfig
	// Port defaults to 830, the IANA-assigned NETCONF-over-SSH port, when
	// zero.
	Port int
}

// Dial opens a TCP connection to addr, establishes the SSH session as
// user, and requests the "netconf" subsystem, returning a Conn over the
// session's stdin/stdout pipes.
func (d *SSHDialer) Dial(ctx context.Context, addr, user string) (Conn, error) {
	var port = d.Port
	if port == 0 {
		port = 830
	}

	var cfg = *d.Config
	cfg.User = user

	var nd net.Dialer
	var tcpConn, err = nd.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, errors.Wrap(err, "dial tcp")
	}

	var sshConn, chans, reqs, hsErr = ssh.NewClientConn(tcpConn, addr, &cfg)
	if hsErr != nil {
		tcpConn.Close()
		return nil, errors.Wrap(hsErr, "ssh handshake")
	}
	var client = ssh.NewClient(sshConn, chans, reqs)

	var session *ssh.Session
	if session, err = client.NewSession(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "open session")
	}

	var stdin io.WriteCloser
	var stdout io.Reader
	if stdin, err = session.StdinPipe(); err != nil {
		session.Close()
		client.Close()
		return nil, errors.Wrap(err, "stdin pipe")
	}
	if stdout, err = session.StdoutPipe(); err != nil {
		session.Close()
		client.Close()
		return nil, errors.Wrap(err, "stdout pipe")
	}

	if err = session.RequestSubsystem("netconf"); err != nil {
		session.Close()
		client.Close()
		return nil, errors.Wrap(err, "request netconf subsystem")
	}

	return &sshNetconfConn{
		addr:    addr,
		session: session,
		client:  client,
		stdin:   stdin,
		stdout:  stdout,
	}, nil
}

type sshNetconfConn struct {
	addr    string
	session *ssh.Session
	client  *ssh.Client
	stdin   io.WriteCloser
	stdout  io.Reader
}

func (c *sshNetconfConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *sshNetconfConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

func (c *sshNetconfConn) Close() error {
	var err1 = c.session.Close()
	var err2 = c.client.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (c *sshNetconfConn) RemoteDesc() string { return c.addr }
