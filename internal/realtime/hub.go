// Package realtime fans study room events out to connected watchers.
//
// Each active study has a room. Researchers watching live sessions join the
// room and receive participant lifecycle events (joined, progress, completed)
// as they happen. When a Redis client is provided, events are relayed through
// a pub/sub channel so every API instance sees them; without Redis the hub
// delivers in-process only.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "afkar:room:"

// Event is one study room notification.
type Event struct {
	StudyID   string          `json:"studyId"`
	Type      string          `json:"type"`
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Event types emitted by the session lifecycle.
const (
	EventParticipantJoined    = "participant_joined"
	EventParticipantProgress  = "participant_progress"
	EventParticipantCompleted = "participant_completed"
	EventWatcherJoined        = "watcher_joined"
)

// Hub tracks room membership and delivers events to subscribers.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[chan Event]bool

	rdb    *redis.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub. rdb may be nil, in which case events are only
// delivered to subscribers in this process.
func NewHub(rdb *redis.Client) *Hub {
	h := &Hub{
		rooms: make(map[string]map[chan Event]bool),
		rdb:   rdb,
	}
	if rdb != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		h.done = make(chan struct{})
		go h.relay(ctx)
	}
	return h
}

// relay forwards Redis room messages to local subscribers.
func (h *Hub) relay(ctx context.Context) {
	defer close(h.done)
	sub := h.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			h.deliver(ev)
		}
	}
}

// Join subscribes to a study room and returns the event channel.
func (h *Hub) Join(studyID string) chan Event {
	ch := make(chan Event, 16)
	h.mu.Lock()
	if h.rooms[studyID] == nil {
		h.rooms[studyID] = make(map[chan Event]bool)
	}
	h.rooms[studyID][ch] = true
	h.mu.Unlock()
	return ch
}

// Leave removes a subscriber from a room and closes its channel.
func (h *Hub) Leave(studyID string, ch chan Event) {
	h.mu.Lock()
	if subs, ok := h.rooms[studyID]; ok {
		if subs[ch] {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.rooms, studyID)
		}
	}
	h.mu.Unlock()
}

// Occupancy reports how many subscribers a room currently has.
func (h *Hub) Occupancy(studyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[studyID])
}

// Publish sends an event to everyone in the study's room. With Redis the
// event goes through pub/sub and comes back via the relay; without it the
// event is delivered directly.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if h.rdb == nil {
		h.deliver(ev)
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := h.rdb.Publish(ctx, channelPrefix+ev.StudyID, data).Err(); err != nil {
		return fmt.Errorf("publish room event: %w", err)
	}
	return nil
}

// deliver fans an event out to local subscribers. Slow subscribers whose
// buffers are full miss the event rather than blocking delivery.
func (h *Hub) deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.rooms[ev.StudyID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close stops the Redis relay if one is running.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
}
