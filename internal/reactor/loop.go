// Package reactor implements the single-threaded cooperative event loop
// that drives every device handle and transaction. All state mutation in
// the controller runs as a closure submitted to a Loop; nothing else holds
// a lock on device or transaction state.
package reactor

import (
	"context"
	"sync"
	"time"
)

// TimerToken identifies a single armed timer. The zero value means "no
// timer armed", matching the device handle invariant that CLOSED and OPEN
// carry no timer.
type TimerToken uint64

// Loop is a single-threaded reactor: Run must be called from exactly one
// goroutine, and every other goroutine interacts with loop-owned state only
// by calling Submit or Call.
type Loop struct {
	tasks chan func()

	mu        sync.Mutex
	nextToken TimerToken
	live      map[TimerToken]*time.Timer
}

// New returns a Loop with reasonable internal queue depth. The queue only
// ever holds closures awaiting dispatch on the loop goroutine; it is not a
// bound on the number of devices or transactions the loop can host.
func New() *Loop {
	return &Loop{
		tasks: make(chan func(), 256),
		live:  make(map[TimerToken]*time.Timer),
	}
}

// Run executes queued closures until ctx is done. It is the reactor's main
// loop and must run on its own goroutine; sockets and sub-process pipes are
// multiplexed by the goroutines that feed Submit, not by Run itself.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Submit enqueues fn to run on the loop goroutine. Submit never blocks the
// caller on fn's execution; use Call when the caller needs fn's side
// effects to be visible before it proceeds.
func (l *Loop) Submit(fn func()) {
	l.tasks <- fn
}

// Call submits fn and blocks until it has run to completion on the loop
// goroutine. It's the mechanism by which the gRPC and HTTP debug servers --
// which run on their own goroutines -- read or mutate reactor-owned state
// without taking a lock on it.
func (l *Loop) Call(fn func()) {
	var done = make(chan struct{})
	l.Submit(func() {
		fn()
		close(done)
	})
	<-done
}

// ArmTimer schedules fn to run on the loop goroutine after d elapses,
// returning a token that DisarmTimer can cancel with. Per the device handle
// invariant, callers are expected to hold at most one live token per
// handle at a time.
func (l *Loop) ArmTimer(d time.Duration, fn func()) TimerToken {
	l.mu.Lock()
	l.nextToken++
	var tok = l.nextToken
	l.mu.Unlock()

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		l.Submit(func() {
			l.mu.Lock()
			_, live := l.live[tok]
			if live {
				delete(l.live, tok)
			}
			l.mu.Unlock()
			if live {
				fn()
			}
		})
	})

	l.mu.Lock()
	l.live[tok] = t
	l.mu.Unlock()
	return tok
}

// DisarmTimer cancels a previously armed timer. It is a no-op for the zero
// token or a token that has already fired or been disarmed.
func (l *Loop) DisarmTimer(tok TimerToken) {
	if tok == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.live[tok]; ok {
		t.Stop()
		delete(l.live, tok)
	}
}
