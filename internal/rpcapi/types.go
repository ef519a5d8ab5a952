// Package rpcapi exposes the controller RPC surface (spec §6) as a
// hand-assembled gRPC service -- the teacher's own RPC stack
// (google.golang.org/grpc), but with no code generator available in
// this dependency pack, the ServiceDesc and wire messages are
// hand-written Go types carried over a small JSON codec instead of
// protobuf-generated stubs. See DESIGN.md for why.
package rpcapi

import (
	"github.com/mitchellh/mapstructure"

	"github.com/netconfd/controller/internal/datastore"
)

// TransactionNewRequest/Response implement transaction-new(origin) -> id.
type TransactionNewRequest struct {
	Origin string `json:"origin"`
}

type TransactionIDResponse struct {
	TID uint64 `json:"tid"`
}

// ConfigPullRequest implements config-pull{devname, transient?, merge?}.
// devname doubles as the glob pattern a plain pull(pattern) dispatches
// against (spec §4.4); a literal device name is simply a pattern with
// no metacharacters.
type ConfigPullRequest struct {
	Origin  string `json:"origin"`
	DevName string `json:"devname"`
	Merge   bool   `json:"merge"`
}

// ControllerCommitRequest implements controller-commit{device, push,
// actions, source, service-instance?}.
type ControllerCommitRequest struct {
	Origin  string `json:"origin"`
	DevName string `json:"devname"`
	Source  string `json:"source"` // "candidate" | "running"
	Actions string `json:"actions"` // NONE | CHANGE | FORCE
	Push    string `json:"push"`    // NONE | VALIDATE | COMMIT
}

// DatastoreDiffRequest implements datastore-diff{devname, config-type1,
// config-type2, format, xpath?}. format is accepted for wire
// compatibility but this controller always returns canonical JSON
// (spec §1 Non-goal: no XML/YANG rendering pipeline here).
type DatastoreDiffRequest struct {
	DevName     string `json:"devname"`
	ConfigType1 string `json:"config_type1"` // "candidate" | "running"
	ConfigType2 string `json:"config_type2"`
	XPath       string `json:"xpath"`
}

type DiffEntry struct {
	XPath string `json:"xpath"`
	Op    string `json:"op"` // "deleted" | "added" | "changed"
	Data  string `json:"data,omitempty"`
}

type DatastoreDiffResponse struct {
	Entries []DiffEntry `json:"entries"`
}

// ConnectionChangeRequest implements
// connection-change{devname, operation∈{CLOSE,OPEN,RECONNECT}}.
type ConnectionChangeRequest struct {
	Origin    string `json:"origin"`
	DevName   string `json:"devname"`
	Operation string `json:"operation"`
}

// GetDeviceSyncConfigRequest/Response implement
// get-device-sync-config{devname} -> config.
type GetDeviceSyncConfigRequest struct {
	DevName string `json:"devname"`
}

type GetDeviceSyncConfigResponse struct {
	Config string `json:"config"` // canonical JSON of the last-synced snapshot
}

// TransactionErrorRequest implements transaction-error{tid, origin, reason}.
type TransactionErrorRequest struct {
	TID    uint64 `json:"tid"`
	Origin string `json:"origin"`
	Reason string `json:"reason"`
}

type Empty struct{}

// DeviceTemplateApplyRequest implements
// device-template-apply{devname, template, variables}. Variables is
// loosely typed on the wire -- a JSON client may send numbers or
// booleans for a substitution value -- and is coerced to the
// map[string]string TemplateApply expects via mitchellh/mapstructure's
// weakly-typed decoding (see decodeVariables).
type DeviceTemplateApplyRequest struct {
	Origin    string                 `json:"origin"`
	DevName   string                 `json:"devname"`
	Template  string                 `json:"template"`
	Variables map[string]interface{} `json:"variables"`
}

// ShowDevicesResponse backs both the show-devices RPC and the HTTP
// debug surface's /devices endpoint.
type ShowDevicesResponse struct {
	Devices []DeviceStatus `json:"devices"`
}

type DeviceStatus struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	Diagnostic string `json:"diagnostic,omitempty"`
	Since      string `json:"since"`
}

func dsFromWire(s string) datastore.DS {
	if s == "candidate" {
		return datastore.Candidate
	}
	return datastore.Running
}

// decodeVariables coerces a device-template-apply request's loosely
// typed variable map into the map[string]string TemplateApply
// substitutes into a template body.
func decodeVariables(in map[string]interface{}) (map[string]string, error) {
	var out = make(map[string]string, len(in))
	var cfg = &mapstructure.DecoderConfig{WeaklyTypedInput: true, Result: &out}
	var dec, err = mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(in); err != nil {
		return nil, err
	}
	return out, nil
}
