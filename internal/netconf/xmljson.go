package netconf

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

// xnode is an intermediate tree used to fold an XML fragment into the
// canonical JSON representation the datastore diffs against. Sibling
// elements sharing a name become a JSON array; everything else becomes an
// object keyed by local element name.
type xnode struct {
	children map[string][]*xnode
	text     string
}

func newXNode() *xnode {
	return &xnode{children: map[string][]*xnode{}}
}

// XMLToJSON folds an XML fragment (typically a <get-config> reply's
// <data> inner content, which may hold several top-level sibling
// elements) into canonical JSON. There is no general-purpose XML<->JSON
// binder in the dependency pack this controller draws from; see
// DESIGN.md for why encoding/xml plus this small fold, rather than a
// YANG-aware binding library, covers the controller's actual need here
// (binding is keyed purely by element name, never by XML schema).
func XMLToJSON(raw []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), nil
	}

	var root = newXNode()
	var stack = []*xnode{root}
	var dec = xml.NewDecoder(bytes.NewReader(raw))

	for {
		var tok, err = dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var n = newXNode()
			var parent = stack[len(stack)-1]
			parent.children[t.Name.Local] = append(parent.children[t.Name.Local], n)
			stack = append(stack, n)
		case xml.CharData:
			stack[len(stack)-1].text += string(t)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}

	return json.Marshal(nodeToValue(root))
}

// JSONToXML is XMLToJSON's inverse: it folds a canonical JSON object back
// into a sequence of sibling XML elements, one per top-level key, used to
// render an edit-config <config> body from a datastore Delta. As with
// XMLToJSON, keying is purely by element name; there is no schema-aware
// nesting.
func JSONToXML(data json.RawMessage) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writeXMLValue(&buf, v)
	return buf.Bytes(), nil
}

func writeXMLValue(buf *bytes.Buffer, v interface{}) {
	var m, ok = v.(map[string]interface{})
	if !ok {
		return
	}
	var keys = make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeXMLElement(buf, k, m[k])
	}
}

func writeXMLElement(buf *bytes.Buffer, name string, v interface{}) {
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			writeXMLElement(buf, name, item)
		}
	case map[string]interface{}:
		fmt.Fprintf(buf, "<%s>", name)
		writeXMLValue(buf, t)
		fmt.Fprintf(buf, "</%s>", name)
	default:
		var esc bytes.Buffer
		_ = xml.EscapeText(&esc, []byte(fmt.Sprint(t)))
		fmt.Fprintf(buf, "<%s>%s</%s>", name, esc.String(), name)
	}
}

func nodeToValue(n *xnode) interface{} {
	if len(n.children) == 0 {
		return strings.TrimSpace(n.text)
	}
	var m = make(map[string]interface{}, len(n.children))
	for name, kids := range n.children {
		if len(kids) == 1 {
			m[name] = nodeToValue(kids[0])
			continue
		}
		var arr = make([]interface{}, len(kids))
		for i, k := range kids {
			arr[i] = nodeToValue(k)
		}
		m[name] = arr
	}
	return m
}
