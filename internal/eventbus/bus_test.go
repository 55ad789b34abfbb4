package eventbus

import "testing"

func TestPublishFanOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: JobEnqueued, JobID: "j1", Channel: "chat"})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != JobEnqueued || e.JobID != "j1" {
			t.Fatalf("unexpected event %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatal("expected Publish to stamp time")
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: JobStarted})
	b.Publish(Event{Type: JobFinished})
	unsub()

	n := 0
	for range ch {
		n++
	}
	if n != 1 {
		t.Fatalf("received %d events, want 1", n)
	}
}
