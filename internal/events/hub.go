package events

import (
	"sync"
	"time"

	"github.com/rahvis/VideoForge/internal/model"

	"github.com/google/uuid"
)

const replayLimit = 256

// Hub fans run events out to SSE subscribers. A bounded replay buffer
// per video lets a reconnecting client catch up without a store-side
// event log.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]chan model.RunEvent
	recent map[string][]model.RunEvent
	seq    map[string]int64
}

func NewHub() *Hub {
	return &Hub{
		subs:   map[string]map[string]chan model.RunEvent{},
		recent: map[string][]model.RunEvent{},
		seq:    map[string]int64{},
	}
}

func (h *Hub) Publish(videoID string, eventType model.RunEventType, payload map[string]any) model.RunEvent {
	h.mu.Lock()
	h.seq[videoID]++
	evt := model.RunEvent{
		Seq:     h.seq[videoID],
		VideoID: videoID,
		Type:    eventType,
		TS:      time.Now().UTC(),
		Payload: payload,
	}
	buf := append(h.recent[videoID], evt)
	if len(buf) > replayLimit {
		buf = buf[len(buf)-replayLimit:]
	}
	h.recent[videoID] = buf
	subs := h.subs[videoID]
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			// Drop for stale subscribers to keep the publisher non-blocking.
		}
	}
	h.mu.Unlock()
	return evt
}

func (h *Hub) Subscribe(videoID string, buf int) (string, <-chan model.RunEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subID := uuid.NewString()
	if _, ok := h.subs[videoID]; !ok {
		h.subs[videoID] = map[string]chan model.RunEvent{}
	}
	ch := make(chan model.RunEvent, buf)
	h.subs[videoID][subID] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		videoSubs, ok := h.subs[videoID]
		if !ok {
			return
		}
		c, ok := videoSubs[subID]
		if !ok {
			return
		}
		delete(videoSubs, subID)
		close(c)
		if len(videoSubs) == 0 {
			delete(h.subs, videoID)
		}
	}
	return subID, ch, unsubscribe
}

// Replay returns buffered events after fromSeq.
func (h *Hub) Replay(videoID string, fromSeq int64) []model.RunEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []model.RunEvent
	for _, evt := range h.recent[videoID] {
		if evt.Seq > fromSeq {
			out = append(out, evt)
		}
	}
	return out
}

// Drop clears a finished video's buffers.
func (h *Hub) Drop(videoID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.recent, videoID)
	delete(h.seq, videoID)
}
