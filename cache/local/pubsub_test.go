package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvOne(t *testing.T, ch <-chan *LocalMessage) *LocalMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestPubSubDelivery(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "alpha")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "alpha", "hello"))
	msg := recvOne(t, ch)
	assert.Equal(t, "alpha", msg.Channel)
	assert.Equal(t, "hello", msg.Payload)
}

func TestPubSubMultiChannel(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "alpha", "beta")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "beta", "b"))
	msg := recvOne(t, ch)
	assert.Equal(t, "beta", msg.Channel)
}

func TestPubSubNoCrossTalk(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "alpha")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "other", "x"))
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPubSubCancelClosesChannel(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "alpha")
	require.NoError(t, err)

	cancel()
	cancel() // idempotent

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after cancel must not panic or block.
	require.NoError(t, ps.Publish(ctx, "alpha", "late"))
}

func TestPubSubFullBufferDrops(t *testing.T) {
	ps := NewPubSub(1)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "alpha")
	require.NoError(t, err)
	defer cancel()

	// Second publish overflows the size-1 buffer and is dropped, not blocked.
	require.NoError(t, ps.Publish(ctx, "alpha", "first"))
	require.NoError(t, ps.Publish(ctx, "alpha", "second"))

	msg := recvOne(t, ch)
	assert.Equal(t, "first", msg.Payload)
	select {
	case msg := <-ch:
		t.Fatalf("expected drop, got: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
