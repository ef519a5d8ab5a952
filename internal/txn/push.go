package txn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/netconfd/controller/internal/datastore"
	"github.com/netconfd/controller/internal/device"
	"github.com/netconfd/controller/internal/netconf"
	"github.com/netconfd/controller/internal/notify"
)

// Push implements spec §4.4's push(pattern) -> id: for every matching
// OPEN device, diff the last-synced baseline against the current
// central running subtree and send the result as an edit-config.
func (e *Engine) Push(origin, pattern string) (uint64, error) {
	var handles, err = e.registry.Resolve(pattern)
	if err != nil {
		return 0, err
	}
	var open = filterOpen(handles)

	var txn = e.newTxn(origin, KindPush, pattern)
	txn.enlist(deviceNames(open))
	if len(open) == 0 {
		e.finish(txn)
		return txn.ID, nil
	}

	e.notifier.Publish(notify.Event{Kind: notify.KindTxnStarted, Time: time.Now(), TxnID: txn.ID})

	for _, h := range open {
		var hh = h
		if !hh.Enlist(txn.ID, "push") {
			e.failEnlist(txn, hh.Name())
			continue
		}
		txn.Substate[hh.Name()] = SubInProgress
		e.pushOne(txn, hh)
	}
	return txn.ID, nil
}

func (e *Engine) pushOne(txn *Transaction, h *device.Handle) {
	var before = datastore.Tree{XPath: h.MountPoint(), Data: json.RawMessage("{}")}
	if prior := h.LastSynced(); prior != nil {
		before = *prior
	}

	var after, err = e.store.Get(context.Background(), datastore.Running, h.MountPoint())
	if err != nil {
		e.completeDevice(txn, h, false)
		return
	}

	var delta, diffErr = e.store.Diff(h.SchemaSet(), before, after, h.MountPoint())
	if diffErr != nil {
		e.completeDevice(txn, h, false)
		return
	}
	if delta.Empty() {
		h.SetLastSynced(&after)
		e.completeDevice(txn, h, true)
		return
	}

	var body, buildErr = buildEditConfigBody(delta)
	if buildErr != nil {
		e.completeDevice(txn, h, false)
		return
	}

	h.RequestReply(
		func(id uint64) []byte { return netconf.BuildEditConfig(id, "candidate", "merge", body) },
		func(reply *netconf.RPCReply, rerr error) {
			if rerr != nil || !reply.IsOK() {
				e.completeDevice(txn, h, false)
				return
			}
			h.SetLastSynced(&after)
			e.completeDevice(txn, h, true)
		},
	)
}

// buildEditConfigBody renders a Delta as an edit-config <config> body:
// additions and changed-after content, each keyed by its xpath's
// trailing segment, merge into one JSON object and fold to XML;
// deletions become nc:operation="delete" markers named the same way.
// There is no general xpath-to-XML nesting here -- the real datastore engine owns that -- so this is a
// best-effort rendering consistent with spec §1's Non-goal that this
// core not implement YANG binding itself.
func buildEditConfigBody(delta datastore.Delta) ([]byte, error) {
	var merged = json.RawMessage(`{}`)
	for _, t := range append(append([]datastore.Tree{}, delta.Added...), delta.ChangedAfter...) {
		var keyed, keyErr = json.Marshal(map[string]json.RawMessage{lastSegment(t.XPath): t.Data})
		if keyErr != nil {
			return nil, keyErr
		}
		var next, err = jsonpatch.MergePatch(merged, keyed)
		if err != nil {
			return nil, err
		}
		merged = next
	}

	var xmlBody, err = netconf.JSONToXML(merged)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(xmlBody)
	for _, d := range delta.Deleted {
		fmt.Fprintf(&buf, `<%s xmlns:nc="%s" nc:operation="delete"/>`, lastSegment(d.XPath), netconf.NSBase10)
	}
	return buf.Bytes(), nil
}

func lastSegment(xpath string) string {
	var idx = strings.LastIndex(xpath, "/")
	if idx < 0 {
		return xpath
	}
	return xpath[idx+1:]
}

// TemplateApply implements spec §4.4's template-apply(pattern, template,
// variables): expand a parameterized configuration template by
// name/value substitution, apply it to each matching device's running
// mount subtree, then behave as Push.
func (e *Engine) TemplateApply(origin, pattern, template string, variables map[string]string) (uint64, error) {
	var expanded = expandTemplate(template, variables)

	var handles, err = e.registry.Resolve(pattern)
	if err != nil {
		return 0, err
	}
	var open = filterOpen(handles)

	var txn = e.newTxn(origin, KindTemplateApply, pattern)
	txn.enlist(deviceNames(open))
	if len(open) == 0 {
		e.finish(txn)
		return txn.ID, nil
	}

	e.notifier.Publish(notify.Event{Kind: notify.KindTxnStarted, Time: time.Now(), TxnID: txn.ID})

	var jsonData, convErr = netconf.XMLToJSON([]byte(expanded))
	if convErr != nil {
		txn.Reason = fmt.Sprintf("template: %v", convErr)
		for _, h := range open {
			e.failEnlist(txn, h.Name())
		}
		return txn.ID, nil
	}

	for _, h := range open {
		var hh = h
		if !hh.Enlist(txn.ID, "template-apply") {
			e.failEnlist(txn, hh.Name())
			continue
		}
		txn.Substate[hh.Name()] = SubInProgress

		if err := e.store.Put(context.Background(), datastore.Running, datastore.OpMerge,
			datastore.Tree{XPath: hh.MountPoint(), Data: jsonData}); err != nil {
			e.completeDevice(txn, hh, false)
			continue
		}
		e.pushOne(txn, hh)
	}
	return txn.ID, nil
}

func expandTemplate(template string, variables map[string]string) string {
	var out = template
	for k, v := range variables {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}
