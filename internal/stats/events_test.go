package stats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStream_Publishes(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "fg:events")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	s := NewEventStream(rdb, "fg:events", 8)
	s.Send("warmup_ready", "warmup", map[string]any{"dur_ms": 12})

	select {
	case msg := <-sub.Channel():
		var ev EventMessage
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, "warmup_ready", ev.Name)
		assert.Equal(t, "warmup", ev.Op)
		assert.EqualValues(t, 12, ev.Fields["dur_ms"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.Close(cctx))
	assert.Equal(t, int64(1), s.Sent())
}

func TestEventStream_DropsAfterClose(t *testing.T) {
	_, rdb := newRedis(t)
	s := NewEventStream(rdb, "fg:events", 1)
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()), "close is idempotent")

	s.Send("request_done", "verify", nil)
	assert.Equal(t, int64(1), s.Dropped())
}

func TestEventStream_UnreachableCountsDrops(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	s := NewEventStream(rdb, "fg:events", 4)
	s.Send("request_done", "verify", nil)
	s.Send("request_done", "verify", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, int64(2), s.Dropped())
	assert.Zero(t, s.Sent())
}
