package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/netconfd/controller/internal/datastore"
	"github.com/netconfd/controller/internal/device"
	"github.com/netconfd/controller/internal/netconf"
	"github.com/netconfd/controller/internal/notify"
)

// ControllerCommit implements spec §4.4's full controller-commit
// pipeline: an optional service-action transform, a local candidate
// validate/commit against every mounted schema, then for every
// participating OPEN device a remote candidate lock, an edit-config,
// and (depending on push mode) a remote commit, with distributed
// rollback of every still-locked device on any participant's failure.
func (e *Engine) ControllerCommit(origin, pattern string, source datastore.DS, actions ServiceActionMode, push PushMode) (uint64, error) {
	var handles, err = e.registry.Resolve(pattern)
	if err != nil {
		return 0, err
	}
	var open = filterOpen(handles)

	var txn = e.newTxn(origin, KindControllerCommit, pattern)
	txn.ServiceAction = actions
	txn.Push = push
	txn.Source = source.String()
	txn.enlist(deviceNames(open))

	if len(open) == 0 {
		e.finish(txn)
		return txn.ID, nil
	}

	if actions == ServiceActionNone && push == PushNone {
		// spec §8: controller-commit(NONE, NONE, NONE) is a no-op --
		// result SUCCESS, no messages emitted.
		for _, h := range open {
			txn.Substate[h.Name()] = SubDone
		}
		txn.pending = 0
		e.finish(txn)
		return txn.ID, nil
	}

	e.notifier.Publish(notify.Event{Kind: notify.KindTxnStarted, Time: time.Now(), TxnID: txn.ID})

	var enlisted []*device.Handle
	for _, h := range open {
		if !h.Enlist(txn.ID, "controller-commit") {
			e.failEnlist(txn, h.Name())
			continue
		}
		txn.Substate[h.Name()] = SubInProgress
		enlisted = append(enlisted, h)
	}
	if len(enlisted) == 0 {
		return txn.ID, nil
	}

	if actions != ServiceActionNone {
		e.runServiceAction(txn, enlisted)
		return txn.ID, nil
	}
	e.beginCommitPipeline(txn, enlisted)
	return txn.ID, nil
}

func (e *Engine) runServiceAction(txn *Transaction, devices []*device.Handle) {
	var snapshot = map[string]json.RawMessage{}
	for _, h := range devices {
		if tree, err := e.store.Get(context.Background(), datastore.Candidate, h.MountPoint()); err == nil {
			snapshot[h.Name()] = tree.Data
		}
	}
	var input, _ = json.Marshal(snapshot)

	var runner = e.runner
	var loop = e.loop
	var ctx, cancel = context.WithTimeout(context.Background(), e.deviceTimeout)

	go func() {
		defer cancel()
		var output, runErr = runner.Run(ctx, input)
		loop.Submit(func() {
			if runErr != nil {
				e.abortInternal(txn, devices, fmt.Sprintf("service-action: %v", runErr))
				return
			}
			var transformed map[string]json.RawMessage
			if jsonErr := json.Unmarshal(output, &transformed); jsonErr != nil {
				e.abortInternal(txn, devices, fmt.Sprintf("service-action: malformed output: %v", jsonErr))
				return
			}
			for _, h := range devices {
				if data, ok := transformed[h.Name()]; ok {
					_ = e.store.Put(context.Background(), datastore.Candidate, datastore.OpReplace,
						datastore.Tree{XPath: h.MountPoint(), Data: data})
				}
			}
			e.beginCommitPipeline(txn, devices)
		})
	}()
}

// abortInternal terminates a transaction with result ERROR, per spec
// §7: "internal-fault is never masked; it terminates the transaction
// with result ERROR".
func (e *Engine) abortInternal(txn *Transaction, devices []*device.Handle, reason string) {
	txn.Result = ResultError
	txn.Reason = reason
	for _, h := range devices {
		h.Release()
		txn.Substate[h.Name()] = SubFailed
	}
	txn.pending = 0
	e.finish(txn)
}

// beginCommitPipeline implements spec §4.4 step 2, validating and
// locally committing the candidate datastore against every mounted
// schema before any device is locked or edited, when the transaction is
// itself sourced from candidate -- a transaction whose candidate does
// not validate never touches a single remote device. A
// Running-sourced transaction diffs directly against the already-live
// running datastore (editDevice's own ds selection) and has no staged
// candidate to locally commit.
func (e *Engine) beginCommitPipeline(txn *Transaction, devices []*device.Handle) {
	if txn.Source == datastore.Candidate.String() {
		var result, err = e.store.Commit(context.Background(), datastore.Candidate, datastore.ValidateFull)
		if err != nil {
			e.failValidate(txn, devices, err.Error())
			return
		}
		if !result.OK {
			e.failValidate(txn, devices, result.ErrorXML)
			return
		}
	}

	for _, h := range devices {
		e.lockDevice(txn, h)
	}
}

// failValidate fails every enlisted device without ever issuing a remote
// lock, per spec §4.4 step 2's validate-before-lock ordering.
func (e *Engine) failValidate(txn *Transaction, devices []*device.Handle, reason string) {
	for _, h := range devices {
		h.Release()
		txn.Substate[h.Name()] = SubFailed
	}
	txn.pending = 0
	txn.Result = ResultFailed
	txn.Reason = reason
	e.finish(txn)
}

func (e *Engine) lockDevice(txn *Transaction, h *device.Handle) {
	txn.setPhase(h.Name(), "PUSH_LOCK")
	h.RequestReply(
		func(id uint64) []byte { return netconf.BuildLock(id, "candidate") },
		func(reply *netconf.RPCReply, err error) {
			if err != nil {
				if txn.Reason == "" {
					txn.Reason = err.Error()
				}
				e.completeDevice(txn, h, false)
				return
			}
			if !reply.IsOK() {
				if reply.IsLockDenied() {
					var reason = fmt.Sprintf("lock is already held in state %s of device %s", txn.phase(h.Name()), h.Name())
					if txn.Reason == "" {
						txn.Reason = reason
					}
					// spec §7: remote-locked recovers locally by driving
					// the affected device to CLOSED.
					h.CloseFailed(device.ErrRemoteLocked, reason)
					e.completeDevice(txn, h, false)
					return
				}
				if txn.Reason == "" {
					txn.Reason = reply.ErrorText()
				}
				e.completeDevice(txn, h, false)
				return
			}
			txn.track(h)
			e.editDevice(txn, h)
		},
	)
}

func (e *Engine) editDevice(txn *Transaction, h *device.Handle) {
	txn.setPhase(h.Name(), "PUSH_EDIT")

	var before = datastore.Tree{XPath: h.MountPoint(), Data: json.RawMessage("{}")}
	if prior := h.LastSynced(); prior != nil {
		before = *prior
	}

	var ds = datastore.Running
	if txn.Source == datastore.Candidate.String() {
		ds = datastore.Candidate
	}
	var after, err = e.store.Get(context.Background(), ds, h.MountPoint())
	if err != nil {
		e.failCommitDevice(txn, h, err.Error())
		return
	}

	var delta, diffErr = e.store.Diff(h.SchemaSet(), before, after, h.MountPoint())
	if diffErr != nil {
		e.failCommitDevice(txn, h, diffErr.Error())
		return
	}
	if delta.Empty() {
		e.afterEdit(txn, h, after)
		return
	}

	var body, buildErr = buildEditConfigBody(delta)
	if buildErr != nil {
		e.failCommitDevice(txn, h, buildErr.Error())
		return
	}

	h.RequestReply(
		func(id uint64) []byte { return netconf.BuildEditConfig(id, "candidate", "merge", body) },
		func(reply *netconf.RPCReply, rerr error) {
			if rerr != nil {
				e.failCommitDevice(txn, h, rerr.Error())
				return
			}
			if !reply.IsOK() {
				e.failCommitDevice(txn, h, reply.ErrorText())
				return
			}
			e.afterEdit(txn, h, after)
		},
	)
}

func (e *Engine) afterEdit(txn *Transaction, h *device.Handle, after datastore.Tree) {
	if txn.Push != PushCommit {
		// NONE or VALIDATE: the edit has been delivered to the device's
		// candidate; no remote validate or commit is sent, and the lock
		// is released.
		e.unlockDevice(txn, h, func() { e.finishCommitDevice(txn, h, after) })
		return
	}

	txn.setPhase(h.Name(), "PUSH_COMMIT")
	h.RequestReply(
		func(id uint64) []byte { return netconf.BuildCommit(id) },
		func(reply *netconf.RPCReply, rerr error) {
			if rerr != nil {
				e.failCommitDevice(txn, h, rerr.Error())
				return
			}
			if !reply.IsOK() {
				e.failCommitDevice(txn, h, reply.ErrorText())
				return
			}
			e.unlockDevice(txn, h, func() { e.finishCommitDevice(txn, h, after) })
		},
	)
}

func (e *Engine) finishCommitDevice(txn *Transaction, h *device.Handle, after datastore.Tree) {
	h.SetLastSynced(&after)
	e.completeDevice(txn, h, true)
}

func (e *Engine) unlockDevice(txn *Transaction, h *device.Handle, then func()) {
	h.RequestReply(
		func(id uint64) []byte { return netconf.BuildUnlock(id, "candidate") },
		func(reply *netconf.RPCReply, rerr error) { then() },
	)
}

// failCommitDevice fails h's participation, rolls every other
// still-locked device in the transaction back with discard-changes and
// unlock (spec §4.4: "on any device's failure, issue a
// discard-changes/unlock to every device that had succeeded"), then
// discards and unlocks h itself.
func (e *Engine) failCommitDevice(txn *Transaction, h *device.Handle, reason string) {
	if txn.Reason == "" {
		txn.Reason = reason
	}
	e.rollbackOthers(txn, h)

	h.RequestReply(
		func(id uint64) []byte { return netconf.BuildDiscardChanges(id) },
		func(reply *netconf.RPCReply, rerr error) {
			e.unlockDevice(txn, h, func() { e.completeDevice(txn, h, false) })
		},
	)
}

func (e *Engine) rollbackOthers(txn *Transaction, failed *device.Handle) {
	for _, h := range txn.activeHandles() {
		if h == failed {
			continue
		}
		txn.untrack(h.Name())
		h.RequestReply(
			func(id uint64) []byte { return netconf.BuildDiscardChanges(id) },
			func(reply *netconf.RPCReply, rerr error) {
				e.unlockDevice(txn, h, func() { e.completeDevice(txn, h, false) })
			},
		)
	}
}

// Abort implements spec §4.4's transaction-error(id, reason): cancels an
// in-flight transaction by discarding and unlocking every device that
// currently holds a remote lock, and terminates the transaction with
// result FAILED and the supplied reason. Per spec §8 scenario 6, a
// device that has already committed is not rolled back -- only devices
// still tracked as locked are touched.
func (e *Engine) Abort(id uint64, reason string) error {
	var txn, ok = e.txns[id]
	if !ok {
		return fmt.Errorf("unknown transaction %d", id)
	}
	if txn.Result != ResultInit {
		return fmt.Errorf("transaction %d is already terminal (%s)", id, txn.Result)
	}

	for _, h := range txn.activeHandles() {
		txn.untrack(h.Name())
		h.RequestReply(
			func(id uint64) []byte { return netconf.BuildDiscardChanges(id) },
			func(reply *netconf.RPCReply, rerr error) {
				e.unlockDevice(txn, h, func() { e.completeDevice(txn, h, false) })
			},
		)
	}
	for name, sub := range txn.Substate {
		if sub == SubWaiting || sub == SubInProgress {
			txn.Substate[name] = SubFailed
		}
	}

	txn.Result = ResultFailed
	txn.Reason = reason
	e.finish(txn)
	return nil
}
