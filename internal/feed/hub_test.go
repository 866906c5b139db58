package feed

import (
	"fmt"
	"testing"
	"time"

	"tailfeed/internal/types"
)

func testMessage(id string) types.ThreadMessage {
	return types.ThreadMessage{
		ID:        id,
		Type:      types.MessageAssistant,
		Content:   "content " + id,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// nextFrame waits for one frame, failing the test if the channel closes or
// nothing arrives in time.
func nextFrame(t *testing.T, sub *Subscriber) Frame {
	t.Helper()
	select {
	case frame, ok := <-sub.Frames():
		if !ok {
			t.Fatal("frames channel closed while waiting for a frame")
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
	return Frame{}
}

// expectClosed waits for the subscriber's channel to be drained and closed.
func expectClosed(t *testing.T, sub *Subscriber) []Frame {
	t.Helper()
	var drained []Frame
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				return drained
			}
			drained = append(drained, frame)
		case <-deadline:
			t.Fatalf("frames channel still open after draining %d frames", len(drained))
		}
	}
}

func TestPublish_DeliversInOrder(t *testing.T) {
	t.Parallel()
	hub := NewHub(8, nil)
	sub := hub.Subscribe("sess")
	defer hub.Unsubscribe(sub)

	for i := 1; i <= 3; i++ {
		hub.Publish("sess", MessageFrame(testMessage(fmt.Sprintf("m%d", i))))
	}

	for i := 1; i <= 3; i++ {
		frame := nextFrame(t, sub)
		if frame.Type != FrameMessage {
			t.Fatalf("got frame type %q, want %q", frame.Type, FrameMessage)
		}
		if want := fmt.Sprintf("m%d", i); frame.Message.ID != want {
			t.Errorf("frame %d: got message %q, want %q", i, frame.Message.ID, want)
		}
	}
}

func TestPublish_SessionsAreIsolated(t *testing.T) {
	t.Parallel()
	hub := NewHub(8, nil)
	sub := hub.Subscribe("mine")
	defer hub.Unsubscribe(sub)

	hub.Publish("other", MessageFrame(testMessage("not-mine")))
	hub.Publish("mine", MessageFrame(testMessage("mine-1")))

	frame := nextFrame(t, sub)
	if frame.Message.ID != "mine-1" {
		t.Errorf("got message %q, want only frames for the subscribed session", frame.Message.ID)
	}
}

func TestPublish_DisconnectsSlowSubscriber(t *testing.T) {
	t.Parallel()
	hub := NewHub(2, nil)
	sub := hub.Subscribe("sess")

	// Two frames fill the buffer; the third finds it full and must
	// disconnect the subscriber instead of blocking.
	for i := 1; i <= 3; i++ {
		hub.Publish("sess", MessageFrame(testMessage(fmt.Sprintf("m%d", i))))
	}

	if count := hub.SubscriberCount("sess"); count != 0 {
		t.Errorf("got %d subscribers after overflow, want 0", count)
	}
	drained := expectClosed(t, sub)
	if len(drained) != 2 {
		t.Errorf("got %d buffered frames, want the 2 that fit", len(drained))
	}
}

func TestPublish_SlowSubscriberDoesNotAffectPeers(t *testing.T) {
	t.Parallel()
	hub := NewHub(1, nil)
	slow := hub.Subscribe("sess")
	fast := hub.Subscribe("sess")
	defer hub.Unsubscribe(fast)

	hub.Publish("sess", MessageFrame(testMessage("m1")))
	if frame := nextFrame(t, fast); frame.Message.ID != "m1" {
		t.Fatalf("fast subscriber got %q, want m1", frame.Message.ID)
	}

	// slow still holds m1, so this publish overflows it.
	hub.Publish("sess", MessageFrame(testMessage("m2")))

	if frame := nextFrame(t, fast); frame.Message.ID != "m2" {
		t.Errorf("fast subscriber got %q, want m2", frame.Message.ID)
	}
	if count := hub.SubscriberCount("sess"); count != 1 {
		t.Errorf("got %d subscribers, want the fast one to survive", count)
	}
	drained := expectClosed(t, slow)
	if len(drained) != 1 || drained[0].Message.ID != "m1" {
		t.Errorf("slow subscriber drained %v, want just m1", drained)
	}
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	t.Parallel()
	hub := NewHub(4, nil)
	sub := hub.Subscribe("sess")

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	expectClosed(t, sub)
	if count := hub.SubscriberCount("sess"); count != 0 {
		t.Errorf("got %d subscribers after unsubscribe, want 0", count)
	}

	// Publishing afterward reaches nobody and must not panic.
	hub.Publish("sess", MessageFrame(testMessage("late")))
}

func TestPublish_NoSubscribers(t *testing.T) {
	t.Parallel()
	hub := NewHub(4, nil)
	hub.Publish("empty", StatusFrame(StatusProcessing, ""))
}

func TestClose_DisconnectsEverySubscriber(t *testing.T) {
	t.Parallel()
	hub := NewHub(4, nil)
	one := hub.Subscribe("a")
	two := hub.Subscribe("b")

	hub.Close()

	expectClosed(t, one)
	expectClosed(t, two)
	if hub.SubscriberCount("a")+hub.SubscriberCount("b") != 0 {
		t.Error("got live subscribers after Close, want none")
	}
}
