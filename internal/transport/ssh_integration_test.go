//go:build integration

package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/ssh"

	"github.com/netconfd/controller/internal/transport"
)

// sshdConfig maps the "netconf" subsystem to /bin/cat, turning the
// session into a loopback byte pipe -- enough to exercise SSHDialer's
// real TCP dial, handshake and subsystem request end to end without
// needing an actual NETCONF server image.
const sshdConfig = `
PermitRootLogin yes
PasswordAuthentication yes
Subsystem netconf /bin/cat
`

func startSSHDContainer(t *testing.T) (host string, port int, cleanup func()) {
	t.Helper()
	var ctx = context.Background()

	var req = testcontainers.ContainerRequest{
		Image:        "linuxserver/openssh-server:latest",
		ExposedPorts: []string{"2222/tcp"},
		Env: map[string]string{
			"PASSWORD_ACCESS": "true",
			"USER_PASSWORD":   "netconfd",
			"USER_NAME":       "netconfd",
		},
		WaitingFor: wait.ForListeningPort("2222/tcp").WithStartupTimeout(60 * time.Second),
	}
	var container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	var hostAddr, hErr = container.Host(ctx)
	require.NoError(t, hErr)
	var mapped, pErr = container.MappedPort(ctx, "2222")
	require.NoError(t, pErr)

	return hostAddr, mapped.Int(), func() { _ = container.Terminate(ctx) }
}

func TestSSHDialerOpensNetconfSubsystem(t *testing.T) {
	var host, port, cleanup = startSSHDContainer(t)
	defer cleanup()

	var dialer = &transport.SSHDialer{
		Port: port,
		Config: &ssh.ClientConfig{
			Auth:            []ssh.AuthMethod{ssh.Password("netconfd")},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         10 * time.Second,
		},
	}

	var ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var conn, err = dialer.Dial(ctx, host, "netconfd")
	require.NoError(t, err)
	defer conn.Close()

	var payload = []byte("<hello/>")
	_, err = conn.Write(payload)
	require.NoError(t, err)

	var buf = make([]byte, len(payload))
	_, err = conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf)
}
