package eventbus

import (
	"testing"

	"github.com/codemender/codemender/model"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewInMemoryBus()
	a := bus.Subscribe("run-1")
	b := bus.Subscribe("run-1")
	other := bus.Subscribe("run-2")

	bus.Publish("run-1", &model.Event{RunID: "run-1", Type: "output_text", Data: "hi"})

	for name, ch := range map[string]<-chan *model.Event{"a": a, "b": b} {
		select {
		case e := <-ch:
			if e.Data != "hi" {
				t.Fatalf("%s: unexpected event %+v", name, e)
			}
		default:
			t.Fatalf("%s: event not delivered", name)
		}
	}
	select {
	case e := <-other:
		t.Fatalf("run-2 subscriber leaked event %+v", e)
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("run-1")

	// Publish past the buffer; none of these may block.
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish("run-1", &model.Event{RunID: "run-1", Type: "stream_delta"})
	}

	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			if n != subscriberBuffer {
				t.Fatalf("expected %d buffered events, got %d", subscriberBuffer, n)
			}
			return
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("run-1")
	bus.Unsubscribe("run-1", ch)

	if _, open := <-ch; open {
		t.Fatal("channel must be closed after unsubscribe")
	}
	// Publishing afterwards is a no-op, not a panic.
	bus.Publish("run-1", &model.Event{RunID: "run-1"})
}

func TestCloseDropsAllSubscribers(t *testing.T) {
	bus := NewInMemoryBus()
	a := bus.Subscribe("run-1")
	b := bus.Subscribe("run-1")
	bus.Close("run-1")

	for name, ch := range map[string]<-chan *model.Event{"a": a, "b": b} {
		if _, open := <-ch; open {
			t.Fatalf("%s: channel must be closed", name)
		}
	}
	bus.Publish("run-1", &model.Event{RunID: "run-1"})
}

func TestUnsubscribeUnknownChannel(t *testing.T) {
	bus := NewInMemoryBus()
	ch := make(chan *model.Event)
	// Must not panic or close a foreign channel.
	bus.Unsubscribe("run-1", ch)
}
