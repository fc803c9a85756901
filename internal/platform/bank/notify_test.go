package bank

import (
	"testing"
	"time"
)

func TestChangeHubWakesSubscribers(t *testing.T) {
	hub := NewChangeHub()
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	hub.Publish(1)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("subscriber not woken")
	}
}

func TestChangeHubPublishNeverBlocks(t *testing.T) {
	hub := NewChangeHub()
	ch, cancel := hub.Subscribe(7)
	defer cancel()

	// Repeated publishes collapse into the single pending signal.
	for i := 0; i < 10; i++ {
		hub.Publish(7)
	}
	select {
	case <-ch:
	default:
		t.Fatalf("signal missing after publishes")
	}
	select {
	case <-ch:
		t.Fatalf("signals must collapse, got a second one")
	default:
	}

	// Publishing to an account with no subscribers is a no-op.
	hub.Publish(999)
}

func TestChangeHubScopedByAccount(t *testing.T) {
	hub := NewChangeHub()
	a, cancelA := hub.Subscribe(1)
	defer cancelA()
	b, cancelB := hub.Subscribe(2)
	defer cancelB()

	hub.Publish(1)
	select {
	case <-a:
	default:
		t.Fatalf("account 1 waiter not woken")
	}
	select {
	case <-b:
		t.Fatalf("account 2 waiter woken by foreign change")
	default:
	}
}

func TestChangeHubCancelStopsDelivery(t *testing.T) {
	hub := NewChangeHub()
	ch, cancel := hub.Subscribe(1)
	cancel()

	hub.Publish(1)
	select {
	case <-ch:
		t.Fatalf("cancelled subscriber still woken")
	default:
	}
}
