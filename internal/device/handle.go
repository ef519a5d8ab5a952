package device

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netconfd/controller/internal/datastore"
	"github.com/netconfd/controller/internal/framing"
	"github.com/netconfd/controller/internal/netconf"
	"github.com/netconfd/controller/internal/reactor"
	"github.com/netconfd/controller/internal/schema"
	"github.com/netconfd/controller/internal/transport"
)

// HandleDeps bundles a Handle's collaborators. Passing them as a struct,
// rather than as package-level globals, keeps the process-wide options
// and external collaborators explicit at construction, per spec §9.
type HandleDeps struct {
	Loop     *reactor.Loop
	Dialer   transport.Dialer
	Pipeline *schema.Pipeline
	Store    datastore.Store

	DeviceTimeout time.Duration
	// FramingOverride forces a framing mode regardless of negotiated
	// capabilities, per spec §4.2 ("negotiation may be overridden by
	// configuration"). Nil means negotiate normally.
	FramingOverride *framing.Mode

	// OnStateChange, if set, is invoked synchronously on the reactor
	// goroutine after every state transition, letting the Registry and
	// Transaction Engine observe handle lifecycle without polling.
	OnStateChange func(name string, from, to State)
}

// Handle is the per-device runtime record spec §3 defines: connection
// state, message-id counter, frame parser state, schema set, last-synced
// tree, outstanding transaction reference, diagnostic, and timer token.
//
// Every exported method on Handle must be called from the reactor
// goroutine that owns deps.Loop; Handle holds no lock of its own, per the
// single-threaded cooperative reactor model (spec §5).
type Handle struct {
	dev  *Device
	deps HandleDeps

	conn   transport.Conn
	framer *framing.Parser

	state      State
	stateSince time.Time

	// generation is bumped on every Connect and close; async callbacks
	// from a prior connection attempt (an in-flight dial, a read pump
	// about to report bytes or EOF) check it before acting, so a closed
	// or reconnected handle never observes a stale peer's bytes.
	generation uint64

	nextMsgID    uint64
	pendingMsgID uint64

	caps map[string]struct{}

	modules     []schema.ModuleRef
	missing     []schema.ModuleRef
	fetchCursor int
	schemaSet   *schema.Set

	lastSynced *datastore.Tree

	txnID   uint64
	txnRole string

	timer      reactor.TimerToken
	diagnostic string
	errKind    ErrKind

	// pushReply, when non-nil, receives the outcome of the single
	// outstanding PUSH_EDIT-state request/reply round trip. The
	// Transaction Engine chains lock/edit/commit/unlock as a sequence of
	// these round trips (spec §4.2's PUSH_EDIT description generalizes
	// to any single request awaited while OPEN is on loan to a txn).
	pushReply func(reply *netconf.RPCReply)
}

// NewHandle returns a Handle for dev, initially CLOSED.
func NewHandle(dev *Device, deps HandleDeps) *Handle {
	return &Handle{
		dev:        dev,
		deps:       deps,
		state:      StateClosed,
		stateSince: time.Now(),
	}
}

func (h *Handle) Name() string           { return h.dev.Name }
func (h *Handle) Device() *Device        { return h.dev }
func (h *Handle) State() State           { return h.state }
func (h *Handle) Diagnostic() string     { return h.diagnostic }
func (h *Handle) ErrKind() ErrKind       { return h.errKind }
func (h *Handle) StateSince() time.Time  { return h.stateSince }
func (h *Handle) SchemaSet() *schema.Set { return h.schemaSet }
func (h *Handle) TxnID() uint64          { return h.txnID }

// LastSynced returns the device subtree as of its last successful
// DEVICE_SYNC, or nil if it has never reached OPEN.
func (h *Handle) LastSynced() *datastore.Tree { return h.lastSynced }

// SetLastSynced overwrites the last-synced baseline. The Transaction
// Engine calls this after a pull or push round trip updates the
// device's running subtree outside the normal DEVICE_SYNC transition.
func (h *Handle) SetLastSynced(tree *datastore.Tree) { h.lastSynced = tree }

// MountPoint is the global-tree location spec §3 mounts this device's
// own YANG-bound subtree under.
func (h *Handle) MountPoint() string {
	return fmt.Sprintf("/devices/device[name=%s]/root", h.dev.Name)
}

// Busy reports whether a transaction currently owns this handle.
func (h *Handle) Busy() bool { return h.txnID != 0 }

// Enlist assigns this handle to transaction tid with the given role. It
// fails if the handle is already enlisted in another transaction.
func (h *Handle) Enlist(tid uint64, role string) bool {
	if h.txnID != 0 && h.txnID != tid {
		return false
	}
	h.txnID = tid
	h.txnRole = role
	return true
}

// Release clears the handle's transaction assignment.
func (h *Handle) Release() {
	h.txnID = 0
	h.txnRole = ""
}

// Connect drives a CLOSED handle to CONNECTING and begins dialing the
// transport. It is a no-op if the handle is not currently CLOSED.
func (h *Handle) Connect() {
	if h.state != StateClosed {
		return
	}
	h.generation++
	var gen = h.generation

	h.pendingMsgID = 0
	h.diagnostic = ""
	h.errKind = ErrNone
	h.caps = nil
	h.setState(StateConnecting)

	var dialer = h.deps.Dialer
	var addr, user = h.dev.Addr, h.dev.User
	var loop = h.deps.Loop

	go func() {
		var conn, err = dialer.Dial(context.Background(), addr, user)
		loop.Submit(func() {
			if gen != h.generation {
				if conn != nil {
					_ = conn.Close()
				}
				return
			}
			if err != nil {
				h.close(ErrTransportEOF, fmt.Sprintf("connect: %v", err))
				return
			}
			h.conn = conn
			h.framer = framing.NewParser(framing.ModeEOM) // hello always uses EOM framing, RFC 6242
			h.armTimer()
			h.startReadPump(gen)
			h.send(netconf.BuildHello([]string{netconf.CapBase10, netconf.CapBase11}))
		})
	}()
}

func (h *Handle) startReadPump(gen uint64) {
	var conn = h.conn
	var loop = h.deps.Loop

	go func() {
		var buf = make([]byte, 16*1024)
		for {
			var n, err = conn.Read(buf)
			if n > 0 {
				var msg = append([]byte(nil), buf[:n]...)
				loop.Submit(func() { h.onBytes(gen, msg) })
			}
			if err != nil {
				loop.Submit(func() { h.onReadErr(gen) })
				return
			}
		}
	}()
}

func (h *Handle) onBytes(gen uint64, b []byte) {
	if gen != h.generation || h.framer == nil {
		return
	}
	for _, ev := range h.framer.Feed(b) {
		switch ev.Kind {
		case framing.EventMessage:
			h.onMessage(ev.Message)
		case framing.EventError:
			h.close(ErrFraming, ev.Err.Error())
		}
		if h.state == StateClosed {
			return // a handler already closed us; remaining events in this feed are moot
		}
	}
}

func (h *Handle) onReadErr(gen uint64) {
	if gen != h.generation {
		return
	}
	h.close(ErrTransportEOF, "peer eof")
}

// armTimer (re-)arms the single per-handle timer at the configured
// device-timeout.
func (h *Handle) armTimer() {
	h.disarmTimer()
	h.timer = h.deps.Loop.ArmTimer(h.deps.DeviceTimeout, h.onTimeout)
}

func (h *Handle) disarmTimer() {
	h.deps.Loop.DisarmTimer(h.timer)
	h.timer = 0
}

func (h *Handle) onTimeout() {
	if !h.state.Transient() {
		return
	}
	h.close(ErrTimeout, "Timeout waiting for remote peer")
}

// nextID returns the next outbound message-id. It is monotonically
// increasing over the handle's entire lifetime, including across
// reconnects, per spec §8's invariant.
func (h *Handle) nextID() uint64 {
	h.nextMsgID++
	h.pendingMsgID = h.nextMsgID
	return h.nextMsgID
}

func (h *Handle) send(payload []byte) {
	var mode = framing.ModeEOM
	if h.framer != nil {
		mode = h.framer.Mode()
	}
	var framed []byte
	if mode == framing.ModeChunked {
		framed = framing.EncodeChunked(payload)
	} else {
		framed = framing.EncodeEOM(payload)
	}
	if h.conn != nil {
		_, _ = h.conn.Write(framed)
	}
}

func (h *Handle) setState(s State) {
	var from = h.state
	h.state = s
	h.stateSince = time.Now()
	if h.deps.OnStateChange != nil {
		h.deps.OnStateChange(h.dev.Name, from, s)
	}
}

// close drives the handle to CLOSED with a single diagnostic string,
// per spec §9's guidance to model the source's variadic diagnostic
// arguments as one formatted string rather than a continuation callback.
func (h *Handle) close(kind ErrKind, diagnostic string) {
	h.generation++
	h.disarmTimer()
	if h.conn != nil {
		_ = h.conn.Close()
		h.conn = nil
	}
	h.framer = nil
	h.pendingMsgID = 0
	h.errKind = kind
	h.diagnostic = diagnostic
	h.pushReply = nil

	log.WithFields(log.Fields{
		"device": h.dev.Name,
		"kind":   kind.String(),
		"from":   h.state.String(),
	}).Warn(diagnostic)

	h.setState(StateClosed)
}

// CloseFailed drives the handle to CLOSED with kind and diagnostic. It is
// the Transaction Engine's hook for device-level failures it detects
// itself, outside the FSM's own message handling -- a denied remote lock
// being the case spec §7 names ("remote-locked" recovers locally by
// driving the affected device to CLOSED).
func (h *Handle) CloseFailed(kind ErrKind, diagnostic string) {
	h.close(kind, diagnostic)
}

// CloseAdministrative tears an OPEN device down deliberately
// (connection-change{CLOSE}), distinct from a protocol failure: no
// timeout or protocol-error diagnostic is attached, supplementing the
// distilled spec with the original's administrative-close semantics.
func (h *Handle) CloseAdministrative() {
	if h.state == StateClosed {
		return
	}
	h.close(ErrAdministrative, "administratively closed")
}
