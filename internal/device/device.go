// Package device implements the per-device connection state machine
// (spec §4.2) and the registry that owns every device handle (spec §4.5).
// It is the heart of the controller: the multi-phase handshake that walks
// a device from CLOSED through CONNECTING, SCHEMA_LIST, SCHEMA_ONE(n),
// DEVICE_SYNC to OPEN, plus the transient PUSH_EDIT state the Transaction
// Engine drives outbound edits through.
package device

import (
	"time"

	"github.com/netconfd/controller/internal/datastore"
)

// ConnType names the transport a Device uses. NETCONF/SSH is the only
// connection type in scope.
type ConnType string

const ConnNETCONFSSH ConnType = "netconf-ssh"

// YangPolicy controls whether the controller acquires a device's YANG
// schema set at all.
type YangPolicy string

const (
	YangDisabled YangPolicy = "disabled"
	YangAcquire  YangPolicy = "acquire"
)

// Device is the persistent, operator-declared record of one fleet
// member. Device itself carries no connection state; that lives on the
// Handle the Registry creates for it.
type Device struct {
	Name   string `validate:"required"`
	Addr   string `validate:"required"`
	User   string `validate:"required"`
	Enable bool
	Conn   ConnType   `validate:"required,eq=netconf-ssh"`
	Yang   YangPolicy `validate:"required,oneof=disabled acquire"`

	// SyncValidateLevel is the validate-level DEVICE_SYNC's candidate
	// commit runs with (spec §4.2: "validate against the schema, level
	// depending on per-device configuration state"). The zero value,
	// ValidateNone, matches every existing fleet config that predates
	// this field.
	SyncValidateLevel datastore.ValidateLevel `mapstructure:"sync-validate-level"`
}

// LastState summarizes the operational status exposed to the RPC surface
// and the HTTP debug endpoint's "show devices" equivalent.
type LastState struct {
	Name       string
	State      State
	Since      time.Time
	Diagnostic string
	ErrKind    ErrKind
}
