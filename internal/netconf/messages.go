// Package netconf provides the message-level XML representations the
// device state machine exchanges with a peer: hello, rpc, rpc-reply,
// rpc-error, and notification, plus builders for the outbound requests
// the controller issues (get, get-config, get-schema, edit-config, lock,
// unlock, commit, discard-changes).
//
// This is deliberately a thin framing-level representation, not a YANG
// parser or validator -- per spec, that remains the datastore engine's
// job. See DESIGN.md for why encoding/xml, not a third-party XML/YANG
// library, backs this package.
package netconf

import (
	"encoding/xml"
	"fmt"
)

// Namespaces used throughout the protocol.
const (
	NSBase10       = "urn:ietf:params:xml:ns:netconf:base:1.0"
	NSBase11       = "urn:ietf:params:xml:ns:netconf:base:1.1"
	NSMonitoring   = "urn:ietf:params:xml:ns:yang:ietf-netconf-monitoring"
	NSYangLibrary  = "urn:ietf:params:xml:ns:yang:ietf-yang-library"
	NSNotification = "urn:ietf:params:xml:ns:netconf:notification:1.0"

	CapBase10      = NSBase10
	CapBase11      = NSBase11
	CapMonitoring  = NSMonitoring
	CapYangLibrary = NSYangLibrary
)

// Hello is the capability-exchange message both peers send immediately
// after transport establishment.
type Hello struct {
	XMLName      xml.Name `xml:"urn:ietf:params:xml:ns:netconf:base:1.0 hello"`
	Capabilities []string `xml:"capabilities>capability"`
	SessionID    uint64   `xml:"session-id,omitempty"`
}

// RPC is an outbound request envelope. Body holds the already-serialized
// operation element (get, get-config, get-schema, edit-config, ...).
type RPC struct {
	XMLName   xml.Name `xml:"urn:ietf:params:xml:ns:netconf:base:1.0 rpc"`
	MessageID uint64   `xml:"message-id,attr"`
	Body      []byte   `xml:",innerxml"`
}

// RPCReply is an inbound reply to an RPC. Exactly one of OK, Data or
// Errors is populated for any well-formed reply.
type RPCReply struct {
	XMLName   xml.Name    `xml:"urn:ietf:params:xml:ns:netconf:base:1.0 rpc-reply"`
	MessageID uint64      `xml:"message-id,attr"`
	OK        *struct{}   `xml:"ok"`
	Data      *InnerXML   `xml:"data"`
	Errors    []RPCError  `xml:"rpc-error"`
}

// InnerXML captures an element's raw inner XML without attempting to
// further decode it -- the controller mounts and binds this content
// against a device's own YANG schema, not a statically known Go type.
type InnerXML struct {
	Content []byte `xml:",innerxml"`
}

// RPCError is a single <rpc-error> entry.
type RPCError struct {
	Type     string `xml:"error-type"`
	Tag      string `xml:"error-tag"`
	Severity string `xml:"error-severity"`
	Message  string `xml:"error-message"`
}

// IsOK reports whether reply carries no <rpc-error>. A reply with <ok/>,
// with <data/> (empty or not), or with neither counts as success.
func (r *RPCReply) IsOK() bool {
	return len(r.Errors) == 0
}

// ErrorText joins all rpc-error messages into one diagnostic string.
func (r *RPCReply) ErrorText() string {
	if len(r.Errors) == 0 {
		return ""
	}
	var s string
	for i, e := range r.Errors {
		if i > 0 {
			s += "; "
		}
		s += fmt.Sprintf("%s: %s", e.Tag, e.Message)
	}
	return s
}

// IsLockDenied reports whether the reply's rpc-error taxonomy indicates
// the candidate datastore is already locked by another session.
func (r *RPCReply) IsLockDenied() bool {
	for _, e := range r.Errors {
		if e.Tag == "lock-denied" {
			return true
		}
	}
	return false
}

// Notification is an asynchronous event the peer may emit outside the
// request/reply cycle (unused by the controller's own RPC flow today, but
// part of the wire protocol per spec §6).
type Notification struct {
	XMLName   xml.Name `xml:"urn:ietf:params:xml:ns:netconf:notification:1.0 notification"`
	EventTime string   `xml:"eventTime"`
	Content   []byte   `xml:",innerxml"`
}

// SchemaEntry is one <schema> element of a get-schema monitoring list
// reply.
type SchemaEntry struct {
	Identifier string `xml:"identifier"`
	Version    string `xml:"version"`
	Namespace  string `xml:"namespace"`
	Format     string `xml:"format"`
	Location   string `xml:"location"`
}
