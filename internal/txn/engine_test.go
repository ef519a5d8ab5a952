package txn_test

import (
	"context"
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

func TestPullStoresFetchedRunningConfig(t *testing.T) {
	var h = newCommitHarness(t, "pull1")
	defer h.cancel()

	var id uint64
	h.loop.Call(func() {
		var txID, err = h.engine.Pull("test", "*", false)
		require.NoError(t, err)
		id = txID
	})

	var getCfg = readFrame(t, h.peer)
	assert.Contains(t, getCfg, "<get-config>")
	writeFrame(t, h.peer, `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="2">`+
		`<data><interfaces><mtu>9000</mtu></interfaces></data></rpc-reply>`)

	var tx = h.waitTerminal(t, id)
	assert.Equal(t, txn.ResultSuccess, tx.Result)

	var tree, err = h.store.Get(context.Background(), datastore.Running, "/devices/device[name=pull1]/root")
	require.NoError(t, err)
	assert.JSONEq(t, `{"interfaces":{"mtu":"9000"}}`, string(tree.Data))
}

func TestPushSendsDiffAsEditConfig(t *testing.T) {
	var h = newCommitHarness(t, "push1")
	defer h.cancel()

	require.NoError(t, h.store.Put(context.Background(), datastore.Running, datastore.OpMerge,
		datastore.Tree{XPath: "/devices/device[name=push1]/root", Data: []byte(`{"interfaces":{"mtu":9000}}`)}))

	var id uint64
	h.loop.Call(func() {
		var txID, err = h.engine.Push("test", "*")
		require.NoError(t, err)
		id = txID
	})

	var edit = readFrame(t, h.peer)
	assert.Contains(t, edit, "<edit-config>")
	assert.Contains(t, edit, "9000")
	writeFrame(t, h.peer, `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="2"><ok/></rpc-reply>`)

	var tx = h.waitTerminal(t, id)
	assert.Equal(t, txn.ResultSuccess, tx.Result)
}

func TestTemplateApplySubstitutesVariablesBeforePush(t *testing.T) {
	var h = newCommitHarness(t, "tmpl1")
	defer h.cancel()

	var id uint64
	h.loop.Call(func() {
		var txID, err = h.engine.TemplateApply("test", "*",
			`<interfaces><mtu>{{mtu}}</mtu></interfaces>`, map[string]string{"mtu": "1400"})
		require.NoError(t, err)
		id = txID
	})

	var edit = readFrame(t, h.peer)
	assert.Contains(t, edit, "<edit-config>")
	assert.Contains(t, edit, "1400")
	writeFrame(t, h.peer, `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="2"><ok/></rpc-reply>`)

	var tx = h.waitTerminal(t, id)
	assert.Equal(t, txn.ResultSuccess, tx.Result)
}

func TestReconnectIsFireAndForgetForClosedDevices(t *testing.T) {
	var loop = reactor.New()
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	var client, peer = transport.NewFakePair("idle1")
	defer peer.Close()
	var pipeline, pErr = schema.NewPipeline(t.TempDir(), 8, schema.DefaultPolicy())
	require.NoError(t, pErr)

	var registry = device.NewRegistry(device.HandleDeps{
		Loop:          loop,
		Dialer:        &transport.FakeDialer{Conn: client},
		Pipeline:      pipeline,
		Store:         datastore.NewMemStore(),
		DeviceTimeout: time.Second,
	})
	registry.Put(&device.Device{
		Name: "idle1", Addr: "10.0.0.1:830", User: "admin",
		Enable: true, Conn: device.ConnNETCONFSSH, Yang: device.YangDisabled,
	})

	var engine = txn.NewEngine(loop, registry, datastore.NewMemStore(), notify.NewBroadcaster(), txn.NoopRunner{}, time.Second)

	var id uint64
	loop.Call(func() {
		var txID, err = engine.Reconnect("test", "*")
		require.NoError(t, err)
		id = txID
	})

	var tx *txn.Transaction
	var ok bool
	loop.Call(func() { tx, ok = engine.Get(id) })
	require.True(t, ok)
	assert.Equal(t, txn.ResultSuccess, tx.Result, "reconnect finishes immediately; devices complete asynchronously via state change, not via the transaction")

	var st device.State
	loop.Call(func() {
		var hh, _ = registry.Lookup("idle1")
		st = hh.State()
	})
	assert.Equal(t, device.StateConnecting, st)
}
