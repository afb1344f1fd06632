package eventbus

import "testing"

func TestPublishFanout(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	doses, unsubDoses := b.Subscribe(4, "dose.")
	defer unsubDoses()

	b.Publish(Event{Type: "dose.committed", Data: "m1"})
	b.Publish(Event{Type: "notifier.sent"})

	if e := <-all; e.Type != "dose.committed" || e.Time.IsZero() {
		t.Fatalf("first event = %+v", e)
	}
	if e := <-all; e.Type != "notifier.sent" {
		t.Fatalf("second event = %+v", e)
	}
	if e := <-doses; e.Type != "dose.committed" {
		t.Fatalf("filtered event = %+v", e)
	}
	select {
	case e := <-doses:
		t.Fatalf("unexpected event for prefix subscriber: %+v", e)
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: "tick"})
	}
	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(ch))
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "after"})
	if _, ok := <-ch; !ok {
		t.Fatalf("buffered event should still be readable after unsubscribe")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
}
