// Package txn implements the Transaction Engine (spec §4.4): the
// cluster-wide commit pipeline coordinating pull, push, controller-commit,
// reconnect and template-apply across a glob-matched set of devices, with
// per-device substate tracking, distributed lock/rollback discipline, and
// asynchronous notification delivery on completion.
package txn

import (
	"time"

	"github.com/netconfd/controller/internal/device"
)

// Kind names the operation a Transaction performs.
type Kind string

const (
	KindPull             Kind = "PULL"
	KindPush             Kind = "PUSH"
	KindControllerCommit Kind = "CONTROLLER_COMMIT"
	KindReconnect        Kind = "RECONNECT"
	KindTemplateApply    Kind = "TEMPLATE_APPLY"
)

// Substate is a participating device's position within a Transaction, per
// spec §3's Transaction data model.
type Substate string

const (
	SubWaiting    Substate = "WAITING"
	SubInProgress Substate = "IN_PROGRESS"
	SubDone       Substate = "DONE"
	SubFailed     Substate = "FAILED"
)

// Result is a Transaction's aggregate outcome.
type Result string

const (
	ResultInit    Result = "INIT"
	ResultSuccess Result = "SUCCESS"
	ResultFailed  Result = "FAILED"
	ResultError   Result = "ERROR"
)

// ServiceActionMode controls whether controller-commit invokes the
// external service-action sub-process before validating candidate.
type ServiceActionMode string

const (
	ServiceActionNone   ServiceActionMode = "NONE"
	ServiceActionChange ServiceActionMode = "CHANGE"
	ServiceActionForce  ServiceActionMode = "FORCE"
)

// PushMode controls how far controller-commit carries an edit.
type PushMode string

const (
	PushNone     PushMode = "NONE"
	PushValidate PushMode = "VALIDATE"
	PushCommit   PushMode = "COMMIT"
)

// Transaction is one atomic multi-device operation.
type Transaction struct {
	ID       uint64
	Origin   string
	Kind     Kind
	Pattern  string
	Devices  []string
	Substate map[string]Substate

	// devicePhase annotates, for CONTROLLER_COMMIT transactions only, the
	// finer-grained step a device is in -- used purely for diagnostics
	// such as "lock is already held in state PUSH_LOCK of device X".
	devicePhase map[string]string

	Result Result
	Reason string

	ServiceAction ServiceActionMode
	Push          PushMode
	Source        string

	CreatedAt  time.Time
	FinishedAt time.Time

	pending int // participating devices still WAITING or IN_PROGRESS

	// active holds, for a CONTROLLER_COMMIT transaction, every device
	// currently holding a remote candidate lock -- the set a mid-flight
	// failure or a user abort must discard-changes/unlock.
	active map[string]*device.Handle
}

func newTransaction(id uint64, origin string, kind Kind, pattern string) *Transaction {
	return &Transaction{
		ID:          id,
		Origin:      origin,
		Kind:        kind,
		Pattern:     pattern,
		Substate:    make(map[string]Substate),
		devicePhase: make(map[string]string),
		active:      make(map[string]*device.Handle),
		Result:      ResultInit,
		CreatedAt:   time.Now(),
	}
}

func (t *Transaction) track(h *device.Handle)  { t.active[h.Name()] = h }
func (t *Transaction) untrack(name string)     { delete(t.active, name) }
func (t *Transaction) activeHandles() []*device.Handle {
	var out = make([]*device.Handle, 0, len(t.active))
	for _, h := range t.active {
		out = append(out, h)
	}
	return out
}

func (t *Transaction) enlist(names []string) {
	t.Devices = append(t.Devices, names...)
	for _, n := range names {
		t.Substate[n] = SubWaiting
	}
	t.pending = len(names)
}

func (t *Transaction) setPhase(device, phase string) {
	t.devicePhase[device] = phase
}

func (t *Transaction) phase(device string) string {
	return t.devicePhase[device]
}

// finishDevice records a device's terminal substate and reports whether
// every participating device has now reached a terminal substate.
func (t *Transaction) finishDevice(name string, ok bool) bool {
	var prior = t.Substate[name]
	if prior == SubDone || prior == SubFailed {
		return t.pending == 0
	}
	if ok {
		t.Substate[name] = SubDone
	} else {
		t.Substate[name] = SubFailed
	}
	t.pending--
	return t.pending <= 0
}

// anyFailed reports whether any participating device ended FAILED.
func (t *Transaction) anyFailed() bool {
	for _, s := range t.Substate {
		if s == SubFailed {
			return true
		}
	}
	return false
}
