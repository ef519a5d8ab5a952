package notify_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netconfd/controller/internal/notify"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	var b = notify.NewBroadcaster()

	var chA, cancelA = b.Subscribe(4)
	defer cancelA()
	var chB, cancelB = b.Subscribe(4)
	defer cancelB()

	b.Publish(notify.Event{Kind: notify.KindDeviceState, Device: "dev1", State: "OPEN", Time: time.Now()})

	var evA = <-chA
	var evB = <-chB
	assert.Equal(t, "dev1", evA.Device)
	assert.Equal(t, "dev1", evB.Device)
}

func TestPublishDropsForFullSubscriberWithoutBlocking(t *testing.T) {
	var b = notify.NewBroadcaster()
	var ch, cancel = b.Subscribe(1)
	defer cancel()

	b.Publish(notify.Event{Kind: notify.KindTxnStarted, TxnID: 1})
	b.Publish(notify.Event{Kind: notify.KindTxnStarted, TxnID: 2}) // must not block: buffer is full

	var first = <-ch
	assert.Equal(t, uint64(1), first.TxnID)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	var b = notify.NewBroadcaster()
	var ch, cancel = b.Subscribe(1)
	cancel()

	var _, ok = <-ch
	assert.False(t, ok)
}

func TestEncodeJSONRoundTrips(t *testing.T) {
	var out, err = notify.EncodeJSON(notify.Event{Kind: notify.KindTxnComplete, TxnID: 7, OK: true})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"txn_id":7`)
}
