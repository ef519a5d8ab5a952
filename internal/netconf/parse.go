package netconf

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// Sniff identifies the root element of a complete frame payload, so the
// device state machine can dispatch on message kind without fully
// decoding the message first. It returns the root element's local name:
// "hello", "rpc-reply", or "notification".
func Sniff(payload []byte) (string, error) {
	var dec = xml.NewDecoder(bytes.NewReader(payload))
	for {
		var tok, err = dec.Token()
		if err != nil {
			return "", fmt.Errorf("netconf: sniff: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

// DecodeRPCReply fully decodes a frame known (via Sniff) to be an
// rpc-reply.
func DecodeRPCReply(payload []byte) (*RPCReply, error) {
	var reply RPCReply
	if err := xml.Unmarshal(payload, &reply); err != nil {
		return nil, fmt.Errorf("netconf: decode rpc-reply: %w", err)
	}
	return &reply, nil
}

// DecodeHello fully decodes a frame known (via Sniff) to be a hello.
func DecodeHello(payload []byte) (*Hello, error) {
	var hello Hello
	if err := xml.Unmarshal(payload, &hello); err != nil {
		return nil, fmt.Errorf("netconf: decode hello: %w", err)
	}
	return &hello, nil
}

// ParseSchemaList extracts well-formed <schema> entries from a get-schema
// monitoring list reply's <data> payload. Per spec, some devices inject
// unrelated metadata elements interleaved with <schema> siblings; those
// are skipped rather than treated as a parse error.
func ParseSchemaList(data []byte) ([]SchemaEntry, error) {
	var dec = xml.NewDecoder(bytes.NewReader(data))
	var out []SchemaEntry

	for {
		var tok, err = dec.Token()
		if err != nil {
			break // io.EOF or a trailing decode artifact; return what we have
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "schema" {
			continue
		}
		var entry SchemaEntry
		if err := dec.DecodeElement(&entry, &start); err != nil {
			// A malformed individual <schema> entry is skipped, not fatal,
			// consistent with the "skip non-schema children" tolerance.
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
