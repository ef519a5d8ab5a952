package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEOMSingleMessage(t *testing.T) {
	var p = NewParser(ModeEOM)
	var events = p.Feed([]byte("<hello/>]]>]]>"))
	require.Len(t, events, 1)
	assert.Equal(t, EventMessage, events[0].Kind)
	assert.Equal(t, "<hello/>", string(events[0].Message))
}

func TestEOMPartialReadsAcrossFeedCalls(t *testing.T) {
	var p = NewParser(ModeEOM)
	assert.Empty(t, p.Feed([]byte("<hel")))
	assert.Empty(t, p.Feed([]byte("lo/>]]>")))
	var events = p.Feed([]byte("]>"))
	require.Len(t, events, 1)
	assert.Equal(t, "<hello/>", string(events[0].Message))
}

func TestEOMTwoMessagesInOneFeed(t *testing.T) {
	var p = NewParser(ModeEOM)
	var events = p.Feed([]byte("<a/>]]>]]><b/>]]>]]>"))
	require.Len(t, events, 2)
	assert.Equal(t, "<a/>", string(events[0].Message))
	assert.Equal(t, "<b/>", string(events[1].Message))
}

func TestChunkedSingleChunk(t *testing.T) {
	var p = NewParser(ModeChunked)
	var events = p.Feed(EncodeChunked([]byte("<hello/>")))
	require.Len(t, events, 1)
	assert.Equal(t, EventMessage, events[0].Kind)
	assert.Equal(t, "<hello/>", string(events[0].Message))
}

func TestChunkedMultipleChunksReassembled(t *testing.T) {
	var p = NewParser(ModeChunked)
	var raw = "\n#3\nfoo\n#3\nbar\n##\n"
	var events = p.Feed([]byte(raw))
	require.Len(t, events, 1)
	assert.Equal(t, "foobar", string(events[0].Message))
}

func TestChunkedMalformedHeader(t *testing.T) {
	var p = NewParser(ModeChunked)
	var events = p.Feed([]byte("\n#nope\n"))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
}

func TestFeedEOFDrainsBuffer(t *testing.T) {
	var p = NewParser(ModeEOM)
	p.Feed([]byte("<partial"))
	var ev = p.FeedEOF()
	assert.Equal(t, EventEOF, ev.Kind)
	assert.Empty(t, p.buf)
}

func TestFrameExceedingMaxSizeErrors(t *testing.T) {
	var p = NewParser(ModeEOM)
	var big = make([]byte, MaxFrameSize+1)
	var events = p.Feed(big)
	require.NotEmpty(t, events)
	assert.Equal(t, EventError, events[len(events)-1].Kind)
}
