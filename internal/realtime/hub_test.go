package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func waitForEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestInProcessPublish(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ch := h.Join("study-1")
	defer h.Leave("study-1", ch)

	other := h.Join("study-2")
	defer h.Leave("study-2", other)

	err := h.Publish(context.Background(), Event{
		StudyID:   "study-1",
		Type:      EventParticipantJoined,
		UserID:    "usr-1",
		SessionID: "ses-1",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ev := waitForEvent(t, ch)
	if ev.Type != EventParticipantJoined {
		t.Errorf("type = %q, want %q", ev.Type, EventParticipantJoined)
	}
	if ev.SessionID != "ses-1" {
		t.Errorf("sessionID = %q, want ses-1", ev.SessionID)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	select {
	case ev := <-other:
		t.Fatalf("study-2 subscriber received event for study-1: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedisRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	h := NewHub(rdb)
	defer h.Close()

	ch := h.Join("study-9")
	defer h.Leave("study-9", ch)

	// The PSubscribe registration races with the first publish, so retry
	// until the relay picks one up.
	ctx := context.Background()
	deadline := time.After(2 * time.Second)
	for {
		if err := h.Publish(ctx, Event{StudyID: "study-9", Type: EventParticipantProgress}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case ev := <-ch:
			if ev.Type != EventParticipantProgress {
				t.Errorf("type = %q, want %q", ev.Type, EventParticipantProgress)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for relayed event")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestOccupancy(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	if got := h.Occupancy("study-x"); got != 0 {
		t.Fatalf("empty room occupancy = %d, want 0", got)
	}

	a := h.Join("study-x")
	b := h.Join("study-x")
	if got := h.Occupancy("study-x"); got != 2 {
		t.Fatalf("occupancy = %d, want 2", got)
	}

	h.Leave("study-x", a)
	if got := h.Occupancy("study-x"); got != 1 {
		t.Fatalf("occupancy after leave = %d, want 1", got)
	}
	h.Leave("study-x", b)
	if got := h.Occupancy("study-x"); got != 0 {
		t.Fatalf("occupancy after all left = %d, want 0", got)
	}

	// Leaving twice must not panic on the closed channel.
	h.Leave("study-x", b)
}
