// Package framing converts a raw byte stream to and from discrete NETCONF
// messages (RFC 6242). It supports both framing modes required by the
// protocol -- a terminating end-of-message sentinel, and size-prefixed
// chunks -- behind a single restartable Parser so the device state
// machine can feed it partial reads without caring which mode is active.
package framing

import "fmt"

// Mode selects which RFC 6242 framing discipline a Parser applies.
type Mode int

const (
	// ModeEOM delimits messages with the NETCONF 1.0 "]]>]]>" sentinel.
	ModeEOM Mode = iota
	// ModeChunked frames messages as a series of size-prefixed chunks
	// terminated by a zero-size marker, per NETCONF 1.1.
	ModeChunked
)

func (m Mode) String() string {
	switch m {
	case ModeEOM:
		return "eom"
	case ModeChunked:
		return "chunked"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// EventKind distinguishes the outcomes of Feed and FeedEOF, mirroring the
// framer's contract: "feed(bytes) -> {continue, message(payload), eof,
// protocol-error}".
type EventKind int

const (
	// EventContinue names the case where the fed bytes completed no new
	// message. Feed reports that case as an empty event slice and never
	// emits an EventContinue event.
	EventContinue EventKind = iota
	// EventMessage carries one complete message payload.
	EventMessage
	// EventEOF is returned by FeedEOF when the underlying stream has
	// closed; any incomplete bytes left in the frame buffer are discarded.
	// The caller should drive the owning handle to CLOSED.
	EventEOF
	// EventError indicates a framing-level protocol violation: a
	// malformed chunk header, or a frame exceeding MaxFrameSize.
	EventError
)

// Event is one outcome of a Feed call. A single Feed call may produce
// several Events, in order, if the fed bytes complete more than one
// message.
type Event struct {
	Kind    EventKind
	Message []byte
	Err     error
}

// MaxFrameSize bounds the size of a single assembled message. Frames
// larger than this are rejected with EventError rather than growing the
// receive buffer without limit.
const MaxFrameSize = 64 << 20 // 64 MiB

var errFrameTooLarge = fmt.Errorf("framing: frame exceeds maximum size (%d bytes)", MaxFrameSize)

// Parser is restartable across partial reads: all framing state lives on
// the Parser value itself, which a device handle persists across calls.
type Parser struct {
	mode Mode
	buf  []byte

	// chunked-mode cursor
	phase     chunkPhase
	remaining int
	assembled []byte // content accumulated across chunks of the in-progress message
}

type chunkPhase int

const (
	phaseSize chunkPhase = iota
	phaseBody
)

// NewParser returns a Parser in the given framing Mode with an empty
// receive buffer.
func NewParser(mode Mode) *Parser {
	return &Parser{mode: mode}
}

// Mode reports the Parser's current framing mode.
func (p *Parser) Mode() Mode { return p.mode }

// SetMode switches the framing mode. Per spec, version negotiation
// selects the mode at most once per session, immediately after hello and
// before any further messages are fed.
func (p *Parser) SetMode(mode Mode) { p.mode = mode }

// Feed appends b to the receive buffer and extracts zero or more complete
// messages from it, in order.
func (p *Parser) Feed(b []byte) []Event {
	p.buf = append(p.buf, b...)

	var events []Event
	for {
		var msg []byte
		var ok bool
		var err error

		switch p.mode {
		case ModeEOM:
			msg, ok, err = p.feedEOM()
		case ModeChunked:
			msg, ok, err = p.feedChunked()
		default:
			err = fmt.Errorf("framing: unknown mode %d", int(p.mode))
		}

		if err != nil {
			events = append(events, Event{Kind: EventError, Err: err})
			return events
		}
		if !ok {
			break
		}
		events = append(events, Event{Kind: EventMessage, Message: msg})
	}

	if len(p.buf)+len(p.assembled) > MaxFrameSize {
		return append(events, Event{Kind: EventError, Err: errFrameTooLarge})
	}
	return events
}

// FeedEOF signals the underlying stream has closed. Any bytes remaining in
// the buffer are discarded, per spec: "a received eof in any state drains
// the buffer and drives to CLOSED".
func (p *Parser) FeedEOF() Event {
	p.buf = nil
	return Event{Kind: EventEOF}
}
