// Package notify fans device and transaction lifecycle events out to the
// gRPC notification stream and the HTTP debug feed (spec §4.2's
// notification delivery and §4.4's per-transaction completion events).
// It adapts the source's ConsumerContext.Publish -- a single publish
// entry point backed by a pooled encode buffer -- to an in-process
// fan-out rather than a journal write, since nothing in this controller
// plays the role of a durable message broker.
package notify

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"
)

// Kind names the class of event a Broadcaster delivers.
type Kind string

const (
	KindDeviceState Kind = "device-state"
	KindTxnStarted  Kind = "txn-started"
	KindTxnComplete Kind = "txn-complete"
)

// Event is one notification delivered to every live subscriber.
type Event struct {
	Kind       Kind      `json:"kind"`
	Time       time.Time `json:"time"`
	Device     string    `json:"device,omitempty"`
	State      string    `json:"state,omitempty"`
	TxnID      uint64    `json:"txn_id,omitempty"`
	OK         bool      `json:"ok,omitempty"`
	Diagnostic string    `json:"diagnostic,omitempty"`
}

// Broadcaster is a single publish point fanning Events out to every
// currently subscribed consumer. All messages the controller emits
// toward the gRPC notification stream or the HTTP debug feed should be
// issued via Publish.
type Broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan Event
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a new consumer with the given channel buffer
// depth, returning its events channel and an unsubscribe function. The
// caller must call unsubscribe exactly once, typically via defer, when
// it stops reading from ch.
func (b *Broadcaster) Subscribe(buffer int) (ch <-chan Event, unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	var id = b.nextID
	var c = make(chan Event, buffer)
	b.subs[id] = c

	return c, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
}

// Publish fans ev out to every current subscriber. A subscriber whose
// buffer is full is dropped from delivery for this event rather than
// blocking the publisher -- the reactor goroutine itself is very often
// the publisher, and a slow gRPC client must never stall it.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range b.subs {
		select {
		case c <- ev:
		default:
		}
	}
}

// encodeBufferPool backs EncodeJSON's callers -- the HTTP debug feed's
// /events stream in particular -- with a reusable scratch buffer so that
// a long-lived subscriber encoding one event per line doesn't allocate a
// fresh buffer per event, matching the source's pooled publish-buffer
// idiom.
var encodeBufferPool = sync.Pool{
	New: func() interface{} { return bytes.NewBuffer(make([]byte, 0, 512)) },
}

// EncodeJSON renders ev as a single newline-terminated JSON line,
// encoding directly into a pooled buffer rather than through an
// intermediate json.Marshal allocation. The returned slice is a copy the
// caller owns outright; the pooled buffer itself is reset and returned
// to the pool before EncodeJSON returns.
func EncodeJSON(ev Event) ([]byte, error) {
	var buf = encodeBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer encodeBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(ev); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes()...), nil
}
