// Package config loads the controller daemon's process-wide options
// (spec §6) from a file plus environment overrides, via spf13/viper,
// into a typed, go-playground/validator/v10-validated struct. Loading
// configuration is itself out of scope for the core (spec §1 names it
// an external collaborator); this package is the daemon's own adapter,
// in the same spirit as the teacher's mainboilerplate config structs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/netconfd/controller/internal/device"
	"github.com/netconfd/controller/internal/framing"
	"github.com/netconfd/controller/internal/txn"
)

// Config is the complete set of process-wide options spec.md §6 and
// SPEC_FULL.md §6 name.
type Config struct {
	// DeviceTimeout bounds how long a handle will wait in any
	// transient state (anything but CLOSED and OPEN) for a peer response
	// before closing with
	// "Timeout waiting for remote peer".
	DeviceTimeout time.Duration `mapstructure:"device-timeout" validate:"required,min=1s"`

	// NetconfFraming overrides the negotiated framing mode; "" leaves
	// negotiation to the hello exchange.
	NetconfFraming string `mapstructure:"netconf-framing" validate:"omitempty,oneof=eom chunked"`

	// SchemaCachePath is the local-cache-file tier of schema
	// resolution (spec §4.3).
	SchemaCachePath string `mapstructure:"schema-cache-path" validate:"required"`

	// SchemaCompiledCacheSize bounds the process-wide LRU of compiled
	// schema sets shared across devices with identical module sets.
	SchemaCompiledCacheSize int `mapstructure:"schema-compiled-cache-size" validate:"min=1"`

	// ServiceActionCommand is the external service-action sub-process
	// command line controller-commit(CHANGE|FORCE, ...) invokes; empty
	// means no service-action process is configured (NoopRunner).
	ServiceActionCommand []string `mapstructure:"service-action-command"`

	// ListenAddr is the gRPC RPC surface's bind address.
	ListenAddr string `mapstructure:"listen-addr" validate:"required,hostname_port"`

	// DebugAddr is the HTTP debug surface's (/healthz, /devices) bind
	// address.
	DebugAddr string `mapstructure:"debug-addr" validate:"required,hostname_port"`

	// RPCTokenSecret signs and validates the bearer tokens RPC callers
	// present.
	RPCTokenSecret string `mapstructure:"rpc-token-secret" validate:"required,min=16"`

	// SSHPrivateKeyPath and SSHKnownHostsPath configure the real
	// transport.SSHDialer's client identity and host-key trust store.
	// Credential management itself is out of scope (spec §1 names the
	// SSH transport an external collaborator); these are just the two
	// file paths the daemon needs to construct one.
	SSHPrivateKeyPath string `mapstructure:"ssh-private-key-path" validate:"required"`
	SSHKnownHostsPath string `mapstructure:"ssh-known-hosts-path" validate:"required"`

	// MetricsNamespace is loaded and validated, but NewGRPCServer does
	// not take it: the RPC surface's Prometheus metrics are registered
	// without a namespace prefix.
	MetricsNamespace string `mapstructure:"metrics-namespace" validate:"required"`

	// Devices is the fleet's static device list -- spec §1 excludes
	// configuration-file loading of the real deployment's device
	// inventory format, but something has to seed the Registry at
	// startup, so the daemon reads the same file this config loads
	// from.
	Devices []device.Device `mapstructure:"devices" validate:"dive"`
}

// FramingOverride resolves NetconfFraming to a *framing.Mode, or nil if
// negotiation is left to the handshake.
func (c Config) FramingOverride() *framing.Mode {
	switch strings.ToLower(c.NetconfFraming) {
	case "chunked":
		var m = framing.ModeChunked
		return &m
	case "eom":
		var m = framing.ModeEOM
		return &m
	default:
		return nil
	}
}

// ServiceActionRunner returns the configured runner: an ExecRunner if a
// command line is set, else a NoopRunner.
func (c Config) ServiceActionRunner() txn.ServiceActionRunner {
	if len(c.ServiceActionCommand) == 0 {
		return txn.NoopRunner{}
	}
	return txn.ExecRunner{Command: c.ServiceActionCommand}
}

// SSHClientConfig builds the ssh.ClientConfig transport.SSHDialer needs
// from SSHPrivateKeyPath and SSHKnownHostsPath. The per-device username
// is filled in by the dialer itself from the device record.
func (c Config) SSHClientConfig() (*ssh.ClientConfig, error) {
	var keyBytes, err = os.ReadFile(c.SSHPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading ssh private key: %w", err)
	}
	var signer, signerErr = ssh.ParsePrivateKey(keyBytes)
	if signerErr != nil {
		return nil, fmt.Errorf("parsing ssh private key: %w", signerErr)
	}
	var hostKeyCallback, hkErr = knownhosts.New(c.SSHKnownHostsPath)
	if hkErr != nil {
		return nil, fmt.Errorf("loading known_hosts: %w", hkErr)
	}
	return &ssh.ClientConfig{
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.DeviceTimeout,
	}, nil
}

func defaults(v *viper.Viper) {
	v.SetDefault("device-timeout", 60*time.Second)
	v.SetDefault("schema-compiled-cache-size", 64)
	v.SetDefault("listen-addr", "0.0.0.0:8443")
	v.SetDefault("debug-addr", "127.0.0.1:8080")
	v.SetDefault("metrics-namespace", "netconfd")
}

// Load reads a Config from path (if non-empty) with CONTROLLERD_-
// prefixed environment variables overriding any file value, then
// validates it. An empty path loads from environment and defaults
// alone.
func Load(path string) (Config, error) {
	var v = viper.New()
	defaults(v)

	v.SetEnvPrefix("CONTROLLERD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}
