package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubmitRunsOnLoopGoroutine(t *testing.T) {
	var loop = New()
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	var got int
	loop.Call(func() { got = 42 })
	assert.Equal(t, 42, got)
}

func TestDisarmTimerPreventsFire(t *testing.T) {
	var loop = New()
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	var fired bool
	var tok = loop.ArmTimer(10*time.Millisecond, func() { fired = true })
	loop.DisarmTimer(tok)

	time.Sleep(30 * time.Millisecond)
	loop.Call(func() {})
	assert.False(t, fired)
}

func TestTimerFiresOnLoop(t *testing.T) {
	var loop = New()
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	var done = make(chan struct{})
	loop.ArmTimer(5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
