package device

import (
	"context"
	"fmt"

	"github.com/netconfd/controller/internal/datastore"
	"github.com/netconfd/controller/internal/framing"
	"github.com/netconfd/controller/internal/netconf"
	"github.com/netconfd/controller/internal/schema"
)

// transitions is the two-dimensional dispatch table spec §9 calls for:
// the handler invoked for a given (state, message kind) pair. A
// (state, kind) pair absent from this table is a protocol violation.
var transitions = map[State]map[string]func(*Handle, []byte){
	StateConnecting: {"hello": (*Handle).handleHello},
	StateSchemaList: {"rpc-reply": (*Handle).handleSchemaListReply},
	StateSchemaOne:  {"rpc-reply": (*Handle).handleSchemaOneReply},
	StateDeviceSync: {"rpc-reply": (*Handle).handleDeviceSyncReply},
	StatePushEdit:   {"rpc-reply": (*Handle).handlePushEditReply},
	StateOpen:       {"notification": (*Handle).handleNotification},
}

// onMessage dispatches a fully reassembled frame according to the
// current state and the message's root element name.
func (h *Handle) onMessage(raw []byte) {
	var kind, err = netconf.Sniff(raw)
	if err != nil {
		h.close(ErrProtocolUnexpected, fmt.Sprintf("malformed message: %v", err))
		return
	}

	var handlers, ok = transitions[h.state]
	if !ok {
		h.close(ErrProtocolUnexpected, fmt.Sprintf("unexpected %s while in state %s", kind, h.state))
		return
	}
	var fn, ok2 = handlers[kind]
	if !ok2 {
		h.close(ErrProtocolUnexpected, fmt.Sprintf("unexpected %s while in state %s", kind, h.state))
		return
	}
	fn(h, raw)
}

func (h *Handle) negotiateFraming() framing.Mode {
	if h.deps.FramingOverride != nil {
		return *h.deps.FramingOverride
	}
	if _, ok := h.caps[netconf.CapBase11]; ok {
		return framing.ModeChunked
	}
	return framing.ModeEOM
}

func (h *Handle) handleHello(raw []byte) {
	var hello, err = netconf.DecodeHello(raw)
	if err != nil {
		h.close(ErrProtocolUnexpected, fmt.Sprintf("malformed hello: %v", err))
		return
	}

	h.caps = make(map[string]struct{}, len(hello.Capabilities))
	for _, c := range hello.Capabilities {
		h.caps[c] = struct{}{}
	}
	if _, ok := h.caps[netconf.CapBase10]; !ok {
		if _, ok := h.caps[netconf.CapBase11]; !ok {
			h.close(ErrCapabilityMissing, "peer advertised no NETCONF base capability")
			return
		}
	}

	h.framer.SetMode(h.negotiateFraming())

	if h.dev.Yang == YangAcquire {
		if _, ok := h.caps[netconf.CapMonitoring]; !ok {
			h.close(ErrCapabilityMissing, "No method to get schemas")
			return
		}
		h.send(netconf.BuildGetSchemas(h.nextID()))
		h.setState(StateSchemaList)
		h.armTimer()
		return
	}

	h.beginDeviceSync()
}

func (h *Handle) handleSchemaListReply(raw []byte) {
	var reply, err = netconf.DecodeRPCReply(raw)
	if err != nil {
		h.close(ErrProtocolUnexpected, err.Error())
		return
	}
	if !reply.IsOK() {
		h.close(ErrSchemaFetchFailed, reply.ErrorText())
		return
	}

	var inner []byte
	if reply.Data != nil {
		inner = reply.Data.Content
	}
	var wireEntries, parseErr = netconf.ParseSchemaList(inner)
	if parseErr != nil {
		h.close(ErrSchemaFetchFailed, parseErr.Error())
		return
	}

	var entries = make([]schema.SchemaListEntry, len(wireEntries))
	for i, e := range wireEntries {
		entries[i] = schema.SchemaListEntry{
			Identifier: e.Identifier,
			Version:    e.Version,
			Namespace:  e.Namespace,
			Format:     e.Format,
			Location:   e.Location,
		}
	}

	h.modules = schema.Eligible(entries, h.deps.Pipeline.Policy)
	h.missing = h.deps.Pipeline.Missing(h.modules)
	h.fetchCursor = 0

	h.fetchNextModuleOrResolve()
}

func (h *Handle) fetchNextModuleOrResolve() {
	if h.fetchCursor >= len(h.missing) {
		h.resolveAndMount()
		return
	}
	var m = h.missing[h.fetchCursor]
	h.send(netconf.BuildGetSchema(h.nextID(), m.Name, m.Revision))
	h.setState(StateSchemaOne)
	h.armTimer()
}

func (h *Handle) handleSchemaOneReply(raw []byte) {
	var reply, err = netconf.DecodeRPCReply(raw)
	if err != nil {
		h.close(ErrProtocolUnexpected, err.Error())
		return
	}
	if !reply.IsOK() {
		h.close(ErrSchemaFetchFailed, reply.ErrorText())
		return
	}

	var m = h.missing[h.fetchCursor]
	var yangText []byte
	if reply.Data != nil {
		yangText = reply.Data.Content
	}
	yangText, err = h.deps.Pipeline.Policy.Postprocess(m, yangText)
	if err != nil {
		h.close(ErrSchemaCompileFailed, err.Error())
		return
	}
	if err := h.deps.Pipeline.Cache.WriteLocal(m, yangText); err != nil {
		h.close(ErrSchemaFetchFailed, err.Error())
		return
	}

	h.fetchCursor++
	h.fetchNextModuleOrResolve()
}

func (h *Handle) resolveAndMount() {
	var set = h.deps.Pipeline.Resolve(h.modules)
	h.schemaSet = set
	if err := h.deps.Store.Mount(h.MountPoint(), set); err != nil {
		h.close(ErrSchemaCompileFailed, err.Error())
		return
	}
	h.beginDeviceSync()
}

func (h *Handle) beginDeviceSync() {
	h.send(netconf.BuildGetConfig(h.nextID(), "running"))
	h.setState(StateDeviceSync)
	h.armTimer()
}

func (h *Handle) handleDeviceSyncReply(raw []byte) {
	var reply, err = netconf.DecodeRPCReply(raw)
	if err != nil {
		h.close(ErrProtocolUnexpected, err.Error())
		return
	}
	if !reply.IsOK() {
		h.close(ErrBindingFailed, reply.ErrorText())
		return
	}

	var inner []byte
	if reply.Data != nil {
		inner = reply.Data.Content
	}
	var jsonData, convErr = netconf.XMLToJSON(inner)
	if convErr != nil {
		h.close(ErrBindingFailed, convErr.Error())
		return
	}

	var ctx = context.Background()
	var tree = datastore.Tree{XPath: h.MountPoint(), Data: jsonData}
	if err := h.deps.Store.Put(ctx, datastore.Candidate, datastore.OpReplace, tree); err != nil {
		h.close(ErrInternalFault, err.Error())
		return
	}

	var result, commitErr = h.deps.Store.Commit(ctx, datastore.Candidate, h.dev.SyncValidateLevel)
	if commitErr != nil {
		_ = h.deps.Store.Copy(ctx, datastore.Running, datastore.Candidate)
		h.close(ErrCommitFailed, commitErr.Error())
		return
	}
	if !result.OK {
		_ = h.deps.Store.Copy(ctx, datastore.Running, datastore.Candidate)
		h.close(ErrValidateFailed, result.ErrorXML)
		return
	}

	h.lastSynced = &tree
	h.diagnostic = ""
	h.errKind = ErrNone
	h.disarmTimer()
	h.setState(StateOpen)
}

// RequestReply is the single mechanism used for every lock/edit/commit/
// unlock/discard round trip a controller-commit drives through an OPEN
// device: it sends payload, parks the handle in PUSH_EDIT until exactly
// one reply arrives, and hands the decoded reply to cb. Spec §4.2 names
// this flow for edit-config specifically; §9 generalizes it to every
// single outstanding request a transaction issues against an OPEN
// device, since the wire mechanics (one request, one timer, one reply)
// are identical in each case.
func (h *Handle) RequestReply(build func(msgID uint64) []byte, cb func(reply *netconf.RPCReply, err error)) {
	if h.state != StateOpen {
		cb(nil, fmt.Errorf("device %s is not open (state %s)", h.dev.Name, h.state))
		return
	}
	var payload = build(h.nextID())
	h.pushReply = func(reply *netconf.RPCReply) { cb(reply, nil) }
	h.send(payload)
	h.setState(StatePushEdit)
	h.armTimer()
}

func (h *Handle) handlePushEditReply(raw []byte) {
	var reply, err = netconf.DecodeRPCReply(raw)
	if err != nil {
		h.close(ErrProtocolUnexpected, err.Error())
		return
	}

	var cb = h.pushReply
	h.pushReply = nil
	h.disarmTimer()
	h.setState(StateOpen)
	if cb != nil {
		cb(reply)
	}
}

// handleNotification accepts, but does not interpret, asynchronous
// <notification> messages a peer may emit while OPEN (spec §6); nothing
// in the controller's own operation set currently subscribes to them.
func (h *Handle) handleNotification(raw []byte) {}
