package txn_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netconfd/controller/internal/datastore"
	"github.com/netconfd/controller/internal/device"
	"github.com/netconfd/controller/internal/notify"
	"github.com/netconfd/controller/internal/reactor"
	"github.com/netconfd/controller/internal/schema"
	"github.com/netconfd/controller/internal/transport"
	"github.com/netconfd/controller/internal/txn"
)

func readFrame(t *testing.T, r io.Reader) string {
	t.Helper()
	var buf = make([]byte, 16384)
	var n, err = r.Read(buf)
	require.NoError(t, err)
	return string(bytes.TrimSuffix(buf[:n], []byte("]]>]]>")))
}

func writeFrame(t *testing.T, w io.Writer, payload string) {
	t.Helper()
	var _, err = w.Write([]byte(payload + "]]>]]>"))
	require.NoError(t, err)
}

// commitHarness brings one OPEN device (yang-disabled, simplest
// handshake) up over a fake transport, wired into a live Engine, so
// controller-commit's lock/edit/commit/unlock round trip can be driven
// from the test like a real peer would.
type commitHarness struct {
	loop     *reactor.Loop
	registry *device.Registry
	store    *datastore.MemStore
	engine   *txn.Engine
	peer     *transport.FakeConn
	cancel   func()
}

func newCommitHarness(t *testing.T, name string) *commitHarness {
	t.Helper()

	var loop = reactor.New()
	var ctx, cancel = context.WithCancel(context.Background())
	go loop.Run(ctx)

	var client, peer = transport.NewFakePair(name)
	var store = datastore.NewMemStore()
	var pipeline, err = schema.NewPipeline(t.TempDir(), 8, schema.DefaultPolicy())
	require.NoError(t, err)

	var deps = device.HandleDeps{
		Loop:          loop,
		Dialer:        &transport.FakeDialer{Conn: client},
		Pipeline:      pipeline,
		Store:         store,
		DeviceTimeout: time.Second,
	}
	var registry = device.NewRegistry(deps)
	var h = registry.Put(&device.Device{
		Name: name, Addr: "10.0.0.1:830", User: "admin",
		Enable: true, Conn: device.ConnNETCONFSSH, Yang: device.YangDisabled,
	})

	h.Connect()
	readFrame(t, peer) // client hello
	writeFrame(t, peer, `<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">`+
		`<capabilities><capability>urn:ietf:params:xml:ns:netconf:base:1.0</capability></capabilities></hello>`)
	readFrame(t, peer) // initial get-config
	writeFrame(t, peer, `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="1">`+
		`<data><interfaces><mtu>1500</mtu></interfaces></data></rpc-reply>`)

	var deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var st device.State
		loop.Call(func() { st = h.State() })
		if st == device.StateOpen {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, device.StateOpen, h.State())

	var notifier = notify.NewBroadcaster()
	var engine = txn.NewEngine(loop, registry, store, notifier, txn.NoopRunner{}, time.Second)

	return &commitHarness{loop: loop, registry: registry, store: store, engine: engine, peer: peer, cancel: cancel}
}

func (c *commitHarness) waitTerminal(t *testing.T, id uint64) *txn.Transaction {
	t.Helper()
	var deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var got *txn.Transaction
		var ok bool
		c.loop.Call(func() { got, ok = c.engine.Get(id) })
		require.True(t, ok)
		if got.Result != txn.ResultInit {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("transaction never reached a terminal result")
	return nil
}

func TestControllerCommitNoopIsImmediateSuccess(t *testing.T) {
	var h = newCommitHarness(t, "dev1")
	defer h.cancel()

	var id uint64
	h.loop.Call(func() {
		var txID, err = h.engine.ControllerCommit("test", "*", datastore.Running, txn.ServiceActionNone, txn.PushNone)
		require.NoError(t, err)
		id = txID
	})

	var tx *txn.Transaction
	var ok bool
	h.loop.Call(func() { tx, ok = h.engine.Get(id) })
	require.True(t, ok)
	assert.Equal(t, txn.ResultSuccess, tx.Result, "controller-commit(NONE, NONE, NONE) must be a no-op success")
}

func TestControllerCommitLockDeniedReportsExactDiagnostic(t *testing.T) {
	var h = newCommitHarness(t, "dev2")
	defer h.cancel()

	require.NoError(t, h.store.Put(context.Background(), datastore.Running, datastore.OpMerge,
		datastore.Tree{XPath: "/devices/device[name=dev2]/root", Data: []byte(`{"interfaces":{"mtu":"9000"}}`)}))

	var id uint64
	h.loop.Call(func() {
		var txID, err = h.engine.ControllerCommit("test", "*", datastore.Running, txn.ServiceActionNone, txn.PushCommit)
		require.NoError(t, err)
		id = txID
	})

	var lockReq = readFrame(t, h.peer)
	assert.Contains(t, lockReq, "<lock>")
	writeFrame(t, h.peer, `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="2">`+
		`<rpc-error><error-type>protocol</error-type><error-tag>lock-denied</error-tag>`+
		`<error-severity>error</error-severity><error-message>locked by another session</error-message></rpc-error>`+
		`</rpc-reply>`)

	var tx = h.waitTerminal(t, id)
	assert.Equal(t, txn.ResultFailed, tx.Result)
	assert.Equal(t, "lock is already held in state PUSH_LOCK of device dev2", tx.Reason)
}

func TestAbortUsesSuppliedReason(t *testing.T) {
	var h = newCommitHarness(t, "dev3")
	defer h.cancel()

	require.NoError(t, h.store.Put(context.Background(), datastore.Running, datastore.OpMerge,
		datastore.Tree{XPath: "/devices/device[name=dev3]/root", Data: []byte(`{"interfaces":{"mtu":"9000"}}`)}))

	var id uint64
	h.loop.Call(func() {
		var txID, err = h.engine.ControllerCommit("test", "*", datastore.Running, txn.ServiceActionNone, txn.PushCommit)
		require.NoError(t, err)
		id = txID
	})

	var lockReq = readFrame(t, h.peer)
	assert.Contains(t, lockReq, "<lock>")
	writeFrame(t, h.peer, `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="2"><ok/></rpc-reply>`)

	// Device is now locked and mid-pipeline; abort it from the RPC surface.
	var aborted bool
	var deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !aborted {
		h.loop.Call(func() {
			if err := h.engine.Abort(id, "Aborted by user"); err == nil {
				aborted = true
			}
		})
		if !aborted {
			time.Sleep(5 * time.Millisecond)
		}
	}
	require.True(t, aborted)

	var discard = readFrame(t, h.peer)
	assert.Contains(t, discard, "discard-changes")
	writeFrame(t, h.peer, `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="3"><ok/></rpc-reply>`)

	var unlock = readFrame(t, h.peer)
	assert.Contains(t, unlock, "<unlock>")
	writeFrame(t, h.peer, `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="4"><ok/></rpc-reply>`)

	var tx *txn.Transaction
	var ok bool
	h.loop.Call(func() { tx, ok = h.engine.Get(id) })
	require.True(t, ok)
	assert.Equal(t, txn.ResultFailed, tx.Result)
	assert.Equal(t, "Aborted by user", tx.Reason)
}

// toggleCommitStore wraps a *datastore.MemStore and fails Commit once
// armed, letting a test pass handshake (which itself commits during
// DEVICE_SYNC) before forcing the controller-commit pipeline's own
// local candidate validate to fail.
type toggleCommitStore struct {
	*datastore.MemStore
	mu     sync.Mutex
	reject bool
	errXML string
}

func (s *toggleCommitStore) arm(errXML string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = true
	s.errXML = errXML
}

func (s *toggleCommitStore) Commit(ctx context.Context, ds datastore.DS, level datastore.ValidateLevel) (datastore.CommitResult, error) {
	s.mu.Lock()
	var reject, errXML = s.reject, s.errXML
	s.mu.Unlock()
	if reject {
		return datastore.CommitResult{OK: false, ErrorXML: errXML}, nil
	}
	return s.MemStore.Commit(ctx, ds, level)
}

// TestControllerCommitCandidateValidateFailureNeverLocksADevice covers
// spec §4.4 step 2: a candidate-sourced controller-commit whose local
// validate/commit fails must fail the transaction before any device is
// locked.
func TestControllerCommitCandidateValidateFailureNeverLocksADevice(t *testing.T) {
	var loop = reactor.New()
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	var client, peer = transport.NewFakePair("dev4")
	var toggle = &toggleCommitStore{MemStore: datastore.NewMemStore()}
	var pipeline, err = schema.NewPipeline(t.TempDir(), 8, schema.DefaultPolicy())
	require.NoError(t, err)

	var deps = device.HandleDeps{
		Loop:          loop,
		Dialer:        &transport.FakeDialer{Conn: client},
		Pipeline:      pipeline,
		Store:         toggle,
		DeviceTimeout: time.Second,
	}
	var registry = device.NewRegistry(deps)
	var dh = registry.Put(&device.Device{
		Name: "dev4", Addr: "10.0.0.1:830", User: "admin",
		Enable: true, Conn: device.ConnNETCONFSSH, Yang: device.YangDisabled,
	})

	dh.Connect()
	readFrame(t, peer) // client hello
	writeFrame(t, peer, `<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">`+
		`<capabilities><capability>urn:ietf:params:xml:ns:netconf:base:1.0</capability></capabilities></hello>`)
	readFrame(t, peer) // initial get-config
	writeFrame(t, peer, `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="1">`+
		`<data><interfaces><mtu>1500</mtu></interfaces></data></rpc-reply>`)

	var deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var st device.State
		loop.Call(func() { st = dh.State() })
		if st == device.StateOpen {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, device.StateOpen, dh.State())

	var notifier = notify.NewBroadcaster()
	var engine = txn.NewEngine(loop, registry, toggle, notifier, txn.NoopRunner{}, time.Second)

	toggle.arm("<rpc-error><error-message>candidate does not validate</error-message></rpc-error>")

	var id uint64
	loop.Call(func() {
		var txID, txErr = engine.ControllerCommit("test", "*", datastore.Candidate, txn.ServiceActionNone, txn.PushCommit)
		require.NoError(t, txErr)
		id = txID
	})

	var tx *txn.Transaction
	var ok bool
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		loop.Call(func() { tx, ok = engine.Get(id) })
		require.True(t, ok)
		if tx.Result != txn.ResultInit {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, txn.ResultFailed, tx.Result)
	assert.Contains(t, tx.Reason, "candidate does not validate")

	// No <lock> was ever sent: the peer has nothing buffered to read.
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	var buf = make([]byte, 16)
	var _, readErr = peer.Read(buf)
	assert.Error(t, readErr, "no edit traffic should reach a device once local validate fails")
}
