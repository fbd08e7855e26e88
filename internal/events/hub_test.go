package events

import (
	"testing"

	"github.com/rahvis/VideoForge/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub()
	_, sub, unsubscribe := h.Subscribe("v1", 8)
	defer unsubscribe()

	evt := h.Publish("v1", model.EventProgress, map[string]any{"progress": 10})
	assert.Equal(t, int64(1), evt.Seq)

	got := <-sub
	assert.Equal(t, model.EventProgress, got.Type)
	assert.Equal(t, "v1", got.VideoID)
}

func TestReplayAfterSeq(t *testing.T) {
	h := NewHub()
	h.Publish("v1", model.EventRunCreated, nil)
	h.Publish("v1", model.EventProgress, nil)
	h.Publish("v1", model.EventProgress, nil)

	all := h.Replay("v1", 0)
	require.Len(t, all, 3)
	tail := h.Replay("v1", 2)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(3), tail[0].Seq)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	_, _, unsubscribe := h.Subscribe("v1", 1)
	defer unsubscribe()

	// Buffer holds one; the rest drop instead of blocking the publisher.
	for i := 0; i < 10; i++ {
		h.Publish("v1", model.EventProgress, nil)
	}
}

func TestDropClearsBuffers(t *testing.T) {
	h := NewHub()
	h.Publish("v1", model.EventProgress, nil)
	h.Drop("v1")
	assert.Empty(t, h.Replay("v1", 0))
}
