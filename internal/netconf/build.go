package netconf

import "fmt"

// BuildHello serializes an outbound <hello> advertising caps.
func BuildHello(caps []string) []byte {
	var s = fmt.Sprintf(`<hello xmlns="%s"><capabilities>`, NSBase10)
	for _, c := range caps {
		s += fmt.Sprintf("<capability>%s</capability>", c)
	}
	s += "</capabilities></hello>"
	return []byte(s)
}

// rpcEnvelope wraps body in an <rpc message-id="..."> envelope.
func rpcEnvelope(msgID uint64, body string) []byte {
	return []byte(fmt.Sprintf(
		`<rpc xmlns="%s" message-id="%d">%s</rpc>`, NSBase10, msgID, body))
}

// BuildGetSchemas requests the monitoring module's schema list, filtered
// to the "schemas" container.
func BuildGetSchemas(msgID uint64) []byte {
	var body = fmt.Sprintf(
		`<get><filter type="subtree"><netconf-state xmlns="%s"><schemas/></netconf-state></filter></get>`,
		NSMonitoring)
	return rpcEnvelope(msgID, body)
}

// BuildGetSchema requests a single YANG module's text by identifier and
// revision.
func BuildGetSchema(msgID uint64, identifier, version string) []byte {
	var body = fmt.Sprintf(
		`<get-schema xmlns="%s"><identifier>%s</identifier><version>%s</version><format>yang</format></get-schema>`,
		NSMonitoring, identifier, version)
	return rpcEnvelope(msgID, body)
}

// BuildGetConfig requests a full-subtree get-config of the named
// datastore ("running" or "candidate").
func BuildGetConfig(msgID uint64, source string) []byte {
	var body = fmt.Sprintf(`<get-config><source><%s/></source></get-config>`, source)
	return rpcEnvelope(msgID, body)
}

// BuildEditConfig wraps config (already-serialized target-schema content)
// into an edit-config against target, with the given default-operation.
func BuildEditConfig(msgID uint64, target, defaultOperation string, config []byte) []byte {
	var body = fmt.Sprintf(
		`<edit-config><target><%s/></target><default-operation>%s</default-operation><config>%s</config></edit-config>`,
		target, defaultOperation, config)
	return rpcEnvelope(msgID, body)
}

// BuildLock requests an exclusive lock on target.
func BuildLock(msgID uint64, target string) []byte {
	return rpcEnvelope(msgID, fmt.Sprintf(`<lock><target><%s/></target></lock>`, target))
}

// BuildUnlock releases a previously acquired lock on target.
func BuildUnlock(msgID uint64, target string) []byte {
	return rpcEnvelope(msgID, fmt.Sprintf(`<unlock><target><%s/></target></unlock>`, target))
}

// BuildCommit requests the candidate datastore be committed to running.
func BuildCommit(msgID uint64) []byte {
	return rpcEnvelope(msgID, `<commit/>`)
}

// BuildDiscardChanges requests the candidate datastore be reset to
// running, discarding uncommitted edits.
func BuildDiscardChanges(msgID uint64) []byte {
	return rpcEnvelope(msgID, `<discard-changes/>`)
}
