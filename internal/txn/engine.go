package txn

import (
	"context"
	"sort"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	log "github.com/sirupsen/logrus"

	"github.com/netconfd/controller/internal/datastore"
	"github.com/netconfd/controller/internal/device"
	"github.com/netconfd/controller/internal/netconf"
	"github.com/netconfd/controller/internal/notify"
	"github.com/netconfd/controller/internal/reactor"
)

// Engine coordinates every multi-device operation. Like device.Handle, its
// exported methods must be called from the reactor goroutine that owns
// the Registry's Loop; Engine holds no lock on transaction state beyond
// the id counter, which the RPC surface may read from other goroutines.
type Engine struct {
	loop     *reactor.Loop
	registry *device.Registry
	store    datastore.Store
	notifier *notify.Broadcaster
	runner   ServiceActionRunner

	deviceTimeout time.Duration

	idMu   sync.Mutex
	nextID uint64

	txns map[uint64]*Transaction
}

// NewEngine returns an Engine driving registry's devices and store,
// publishing completion events to notifier. loop must be the same Loop
// the registry's handles run on: the service-action sub-process result
// is delivered back to the engine via loop.Submit, exactly as a device
// handle's async dial and read-pump results are.
func NewEngine(loop *reactor.Loop, registry *device.Registry, store datastore.Store, notifier *notify.Broadcaster, runner ServiceActionRunner, deviceTimeout time.Duration) *Engine {
	if runner == nil {
		runner = NoopRunner{}
	}
	return &Engine{
		loop:          loop,
		registry:      registry,
		store:         store,
		notifier:      notifier,
		runner:        runner,
		deviceTimeout: deviceTimeout,
		txns:          make(map[uint64]*Transaction),
	}
}

// TransactionNew allocates a bare transaction record, per spec §4.4's
// transaction-new(origin) -> id. It carries no device participants until
// an operation (pull, push, ...) enlists some.
func (e *Engine) TransactionNew(origin string) uint64 {
	var txn = e.newTxn(origin, "", "")
	txn.Result = ResultInit
	return txn.ID
}

// Get returns the transaction record for id, if known.
func (e *Engine) Get(id uint64) (*Transaction, bool) {
	var t, ok = e.txns[id]
	return t, ok
}

func (e *Engine) newTxn(origin string, kind Kind, pattern string) *Transaction {
	e.idMu.Lock()
	e.nextID++
	var id = e.nextID
	e.idMu.Unlock()

	var txn = newTransaction(id, origin, kind, pattern)
	e.txns[id] = txn
	return txn
}

func filterOpen(handles []*device.Handle) []*device.Handle {
	var out []*device.Handle
	for _, h := range handles {
		if h.State() == device.StateOpen {
			out = append(out, h)
		}
	}
	return out
}

func deviceNames(handles []*device.Handle) []string {
	var names = make([]string, len(handles))
	for i, h := range handles {
		names[i] = h.Name()
	}
	sort.Strings(names) // spec §4.4: device iteration within a transaction is by sorted name
	return names
}

// completeDevice records a successfully-or-unsuccessfully finished
// device, releases its enlistment, and finalizes the transaction once
// every participant has reported.
func (e *Engine) completeDevice(txn *Transaction, h *device.Handle, ok bool) {
	h.Release()
	txn.untrack(h.Name())
	if txn.Result != ResultInit {
		return // transaction already concluded (internal fault or abort)
	}
	if txn.finishDevice(h.Name(), ok) {
		e.finish(txn)
	}
}

// failEnlist records a participant that never started because it was
// already owned by another transaction -- spec §4.4's "device busy".
func (e *Engine) failEnlist(txn *Transaction, name string) {
	if txn.Reason == "" {
		txn.Reason = "device busy"
	}
	if txn.finishDevice(name, false) {
		e.finish(txn)
	}
}

func (e *Engine) finish(txn *Transaction) {
	txn.FinishedAt = time.Now()
	switch txn.Result {
	case ResultError, ResultFailed:
		// already decided, by an internal fault or an explicit abort;
		// don't let device accounting overwrite it.
	default:
		if txn.anyFailed() {
			txn.Result = ResultFailed
			if txn.Reason == "" {
				txn.Reason = "one or more devices failed"
			}
		} else {
			txn.Result = ResultSuccess
		}
	}

	log.WithFields(log.Fields{"tid": txn.ID, "kind": txn.Kind, "result": txn.Result}).Info(txn.Reason)
	e.notifier.Publish(notify.Event{
		Kind:       notify.KindTxnComplete,
		Time:       time.Now(),
		TxnID:      txn.ID,
		OK:         txn.Result == ResultSuccess,
		Diagnostic: txn.Reason,
	})
}

// Pull implements spec §4.4's pull(pattern, merge?) -> id.
func (e *Engine) Pull(origin, pattern string, merge bool) (uint64, error) {
	var handles, err = e.registry.Resolve(pattern)
	if err != nil {
		return 0, err
	}
	var open = filterOpen(handles)

	var txn = e.newTxn(origin, KindPull, pattern)
	txn.enlist(deviceNames(open))

	if len(open) == 0 {
		e.finish(txn)
		return txn.ID, nil
	}

	e.notifier.Publish(notify.Event{Kind: notify.KindTxnStarted, Time: time.Now(), TxnID: txn.ID})

	for _, h := range open {
		var hh = h
		if !hh.Enlist(txn.ID, "pull") {
			e.failEnlist(txn, hh.Name())
			continue
		}
		txn.Substate[hh.Name()] = SubInProgress
		hh.RequestReply(
			func(id uint64) []byte { return netconf.BuildGetConfig(id, "running") },
			func(reply *netconf.RPCReply, rerr error) { e.onPullReply(txn, hh, merge, reply, rerr) },
		)
	}
	return txn.ID, nil
}

func (e *Engine) onPullReply(txn *Transaction, h *device.Handle, merge bool, reply *netconf.RPCReply, err error) {
	if err != nil || !reply.IsOK() {
		e.completeDevice(txn, h, false)
		return
	}

	var inner []byte
	if reply.Data != nil {
		inner = reply.Data.Content
	}
	var fetched, convErr = netconf.XMLToJSON(inner)
	if convErr != nil {
		e.completeDevice(txn, h, false)
		return
	}

	var tree = datastore.Tree{XPath: h.MountPoint(), Data: fetched}
	if merge {
		if prior := h.LastSynced(); prior != nil {
			if merged, mergeErr := jsonpatch.MergePatch(prior.Data, fetched); mergeErr == nil {
				tree.Data = merged
			}
		}
	}

	if err := e.store.Put(context.Background(), datastore.Running, datastore.OpReplace, tree); err != nil {
		e.completeDevice(txn, h, false)
		return
	}
	h.SetLastSynced(&tree)
	e.completeDevice(txn, h, true)
}

// Reconnect implements spec §4.4's reconnect(pattern): re-initiate the
// connect flow for every matching CLOSED device.
func (e *Engine) Reconnect(origin, pattern string) (uint64, error) {
	var handles, err = e.registry.Resolve(pattern)
	if err != nil {
		return 0, err
	}

	var closed []*device.Handle
	for _, h := range handles {
		if h.State() == device.StateClosed {
			closed = append(closed, h)
		}
	}

	var txn = e.newTxn(origin, KindReconnect, pattern)
	txn.enlist(deviceNames(closed))
	for _, h := range closed {
		txn.Substate[h.Name()] = SubDone // reconnect is fire-and-forget: completion is observed via device state, not this transaction
		h.Connect()
	}
	e.finish(txn)
	return txn.ID, nil
}
