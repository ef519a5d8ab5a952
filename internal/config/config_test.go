package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netconfd/controller/internal/config"
	"github.com/netconfd/controller/internal/framing"
	"github.com/netconfd/controller/internal/txn"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	var path = filepath.Join(t.TempDir(), "controllerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	var path = writeConfig(t, `
schema-cache-path: /var/lib/controllerd/schemas
rpc-token-secret: "sixteen-byte-secret!"
ssh-private-key-path: /etc/controllerd/id_ed25519
ssh-known-hosts-path: /etc/controllerd/known_hosts
devices:
  - name: core-rtr-1
    addr: 10.0.0.1:830
    user: admin
    enable: true
    conn: netconf-ssh
    yang: acquire
`)

	var cfg, err = config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.DeviceTimeout)
	assert.Equal(t, "0.0.0.0:8443", cfg.ListenAddr)
	assert.Equal(t, "127.0.0.1:8080", cfg.DebugAddr)
	assert.Equal(t, "netconfd", cfg.MetricsNamespace)
	require.Len(t, cfg.Devices, 1)
	assert.Equal(t, "core-rtr-1", cfg.Devices[0].Name)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	var path = writeConfig(t, `listen-addr: "0.0.0.0:9000"`)

	var _, err = config.Load(path)
	assert.Error(t, err)
}

func TestFramingOverride(t *testing.T) {
	var cfg = config.Config{NetconfFraming: "chunked"}
	var mode = cfg.FramingOverride()
	require.NotNil(t, mode)
	assert.Equal(t, framing.ModeChunked, *mode)

	cfg = config.Config{}
	assert.Nil(t, cfg.FramingOverride())
}

func TestServiceActionRunnerDefaultsToNoop(t *testing.T) {
	var cfg = config.Config{}
	assert.IsType(t, txn.NoopRunner{}, cfg.ServiceActionRunner())

	cfg = config.Config{ServiceActionCommand: []string{"/bin/true"}}
	assert.IsType(t, txn.ExecRunner{}, cfg.ServiceActionRunner())
}
