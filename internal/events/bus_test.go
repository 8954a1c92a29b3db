package events

import (
	"sync"
	"testing"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventClipReady)
	other := bus.Subscribe(EventStreamEnd)

	bus.Publish(EventClipReady, Payload{"label": "rpi-orcasound-lab_2020_09_26_17_16_55_PDT"})

	select {
	case p := <-sub:
		if p["label"] != "rpi-orcasound-lab_2020_09_26_17_16_55_PDT" {
			t.Fatalf("unexpected payload %v", p)
		}
	default:
		t.Fatal("expected clip.ready payload")
	}

	select {
	case p := <-other:
		t.Fatalf("stream.end subscriber received %v", p)
	default:
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventFolderRollover)
	bus.Unsubscribe(EventFolderRollover, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed subscriber channel")
	}
	bus.Publish(EventFolderRollover, Payload{})
}

func TestFanoutPublishesToAll(t *testing.T) {
	a, b := NewBus(), NewBus()
	subA := a.Subscribe(EventSegmentSkipped)
	subB := b.Subscribe(EventSegmentSkipped)

	Fanout{a, nil, b}.Publish(EventSegmentSkipped, Payload{"index": 3})

	if len(subA) != 1 || len(subB) != 1 {
		t.Fatalf("expected one event per bus, got %d and %d", len(subA), len(subB))
	}
}

func TestBusPublishWhileUnsubscribing(t *testing.T) {
	bus := NewBus()
	subs := make([]Subscriber, 50)
	for i := range subs {
		subs[i] = bus.Subscribe(EventSegmentSkipped)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			bus.Publish(EventSegmentSkipped, Payload{"index": i})
		}
	}()
	go func() {
		defer wg.Done()
		for _, sub := range subs {
			bus.Unsubscribe(EventSegmentSkipped, sub)
		}
	}()
	wg.Wait()

	for _, sub := range subs {
		for range sub {
		}
	}
}
