package broadcast

import (
	"errors"
	"testing"
)

func TestBroadcastReachesOnlyOwnSession(t *testing.T) {
	b := New(nil)

	var gotA, gotB []Event
	b.Subscribe("sess-a", func(e Event) error {
		gotA = append(gotA, e)
		return nil
	})
	b.Subscribe("sess-b", func(e Event) error {
		gotB = append(gotB, e)
		return nil
	})

	b.Broadcast(TextDelta("sess-a", "hello"))

	if len(gotA) != 1 {
		t.Fatalf("expected 1 event for sess-a, got %d", len(gotA))
	}
	if gotA[0].Payload != "hello" {
		t.Errorf("unexpected payload: %v", gotA[0].Payload)
	}
	if len(gotB) != 0 {
		t.Errorf("sess-b must not receive sess-a events, got %d", len(gotB))
	}
}

func TestFailedObserverIsDropped(t *testing.T) {
	b := New(nil)

	calls := 0
	b.Subscribe("sess-a", func(e Event) error {
		calls++
		return errors.New("connection gone")
	})

	b.Broadcast(TextDelta("sess-a", "first"))
	b.Broadcast(TextDelta("sess-a", "second"))

	if calls != 1 {
		t.Errorf("failed observer must be dropped after first delivery, got %d calls", calls)
	}
	if n := b.ObserverCount("sess-a"); n != 0 {
		t.Errorf("expected 0 observers after eviction, got %d", n)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil)

	calls := 0
	unsubscribe := b.Subscribe("sess-a", func(e Event) error {
		calls++
		return nil
	})

	b.Broadcast(TextDelta("sess-a", "one"))
	unsubscribe()
	b.Broadcast(TextDelta("sess-a", "two"))
	unsubscribe() // second call is a no-op

	if calls != 1 {
		t.Errorf("expected 1 delivery before unsubscribe, got %d", calls)
	}
}

func TestPayloadSanitization(t *testing.T) {
	b := New(nil)

	var got Event
	b.Subscribe("sess-a", func(e Event) error {
		got = e
		return nil
	})

	type result struct {
		Count int    `json:"count"`
		Note  string `json:"note"`
	}
	b.Broadcast(ToolOutputAvailable("sess-a", "call-1", "create_entity", result{Count: 2, Note: "ok"}))

	m, ok := got.Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("expected sanitized map payload, got %T", got.Payload)
	}
	if m["count"] != float64(2) || m["note"] != "ok" {
		t.Errorf("unexpected sanitized payload: %v", m)
	}
	if got.ToolName != "create_entity" || got.ToolID != "call-1" {
		t.Errorf("tool metadata lost: %+v", got)
	}
}

func TestUnencodablePayloadFallsBackToString(t *testing.T) {
	b := New(nil)

	var got Event
	b.Subscribe("sess-a", func(e Event) error {
		got = e
		return nil
	})

	// Channels cannot be JSON-encoded
	b.Broadcast(ToolOutputAvailable("sess-a", "call-1", "web_search", make(chan int)))

	if _, ok := got.Payload.(string); !ok {
		t.Errorf("expected string fallback payload, got %T", got.Payload)
	}
}

func TestBroadcastWithoutObserversIsSafe(t *testing.T) {
	b := New(nil)
	b.Broadcast(AssistantMessage("nobody-home", "hello?"))
}
