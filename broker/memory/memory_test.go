package memory

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishWithoutSubscribersIsFireAndForget(t *testing.T) {
	b := New()
	defer b.Close()
	if err := b.Publish(context.Background(), "DCOP/1", "ON"); err != nil {
		t.Fatalf("publish to empty topic: %v", err)
	}
}

func TestDeliveryPreservesOrder(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	cancel, err := b.Subscribe(ctx, "DCOP/1", func(_, payload string) {
		mu.Lock()
		got = append(got, payload)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	for _, p := range []string{"a", "b", "c"} {
		if err := b.Publish(ctx, "DCOP/1", p); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deliveries never completed")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"a", "b", "c"} {
		if got[i] != want {
			t.Fatalf("order broken: %v", got)
		}
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	wrong := make(chan string, 1)
	if _, err := b.Subscribe(ctx, "DCOP/2", func(_, payload string) {
		wrong <- payload
	}); err != nil {
		t.Fatal(err)
	}

	if err := b.Publish(ctx, "DCOP/1", "ON"); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-wrong:
		t.Fatalf("cross-topic delivery: %q", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	got := make(chan string, 8)
	cancel, err := b.Subscribe(ctx, "DCOP/1", func(_, payload string) {
		got <- payload
	})
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	if err := b.Publish(ctx, "DCOP/1", "ON"); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-got:
		t.Fatalf("delivery after cancel: %q", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClosedBrokerRejects(t *testing.T) {
	b := New()
	b.Close()
	if err := b.Publish(context.Background(), "DCOP/1", "ON"); err != ErrClosed {
		t.Errorf("publish after close: %v, want ErrClosed", err)
	}
	if _, err := b.Subscribe(context.Background(), "DCOP/1", func(string, string) {}); err != ErrClosed {
		t.Errorf("subscribe after close: %v, want ErrClosed", err)
	}
}
