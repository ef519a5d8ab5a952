package rpcapi_test

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
	"github.com/netconfd/controller/internal/rpcapi"
	"github.com/netconfd/controller/internal/txn"
)

func newTestServer(t *testing.T) (*rpcapi.Server, *reactor.Loop, func()) {
	t.Helper()
	var loop = reactor.New()
	var ctx, cancel = context.WithCancel(context.Background())
	go loop.Run(ctx)

	var store = datastore.NewMemStore()
	var registry = device.NewRegistry(device.HandleDeps{Loop: loop, Store: store})
	registry.Put(&device.Device{Name: "dev1", Addr: "10.0.0.1:830", User: "admin",
		Enable: true, Conn: device.ConnNETCONFSSH, Yang: device.YangDisabled})

	var notifier = notify.NewBroadcaster()
	var engine = txn.NewEngine(loop, registry, store, notifier, txn.NoopRunner{}, time.Second)

	return rpcapi.NewServer(loop, registry, store, engine, notifier), loop, cancel
}

func TestTransactionNewAllocatesMonotonicIDs(t *testing.T) {
	var srv, _, cancel = newTestServer(t)
	defer cancel()

	var first, err = srv.TransactionNew(context.Background(), &rpcapi.TransactionNewRequest{Origin: "cli"})
	require.NoError(t, err)
	var second, err2 = srv.TransactionNew(context.Background(), &rpcapi.TransactionNewRequest{Origin: "cli"})
	require.NoError(t, err2)

	assert.Equal(t, first.TID+1, second.TID)
}

func TestShowDevicesReportsRegisteredHandles(t *testing.T) {
	var srv, _, cancel = newTestServer(t)
	defer cancel()

	var resp, err = srv.ShowDevices(context.Background(), &rpcapi.Empty{})
	require.NoError(t, err)
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, "dev1", resp.Devices[0].Name)
	assert.Equal(t, "CLOSED", resp.Devices[0].State)
}

func TestDeviceTemplateApplyCoercesLooselyTypedVariables(t *testing.T) {
	var srv, _, cancel = newTestServer(t)
	defer cancel()

	// dev1 is CLOSED, so no device is actually pushed to, but the
	// request must still decode cleanly: mtu arrives as a JSON number
	// and enabled as a JSON bool, both of which mapstructure's
	// weakly-typed decoder must coerce to strings before TemplateApply
	// ever sees them.
	var resp, err = srv.DeviceTemplateApply(context.Background(), &rpcapi.DeviceTemplateApplyRequest{
		Origin:   "cli",
		DevName:  "*",
		Template: `<interfaces><mtu>{{mtu}}</mtu><enabled>{{enabled}}</enabled></interfaces>`,
		Variables: map[string]interface{}{
			"mtu":     1500,
			"enabled": true,
		},
	})
	require.NoError(t, err)
	assert.NotZero(t, resp.TID)
}

func TestConnectionChangeUnknownDeviceIsNotFound(t *testing.T) {
	var srv, _, cancel = newTestServer(t)
	defer cancel()

	var _, err = srv.ConnectionChange(context.Background(), &rpcapi.ConnectionChangeRequest{
		DevName: "ghost", Operation: "OPEN",
	})
	assert.Error(t, err)
}
