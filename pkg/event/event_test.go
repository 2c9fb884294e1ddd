package event

import (
	"context"
	"testing"
	"time"
)

func TestQueueOrder(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()
	q.Post(ctx, Event{Kind: RaAttached, Ifindex: 1})
	q.Post(ctx, Event{Kind: Quit})

	first := <-q.C()
	second := <-q.C()
	if first.Kind != RaAttached || second.Kind != Quit {
		t.Errorf("got %s then %s", first.Kind, second.Kind)
	}
}

func TestQueueTryPostFull(t *testing.T) {
	q := NewQueue(1)
	if !q.TryPost(Event{Kind: RaAttached}) {
		t.Fatal("first TryPost should succeed")
	}
	if q.TryPost(Event{Kind: RaDetached}) {
		t.Error("TryPost on full queue should fail")
	}
}

func TestQueuePostCancelled(t *testing.T) {
	q := NewQueue(1)
	q.TryPost(Event{Kind: RaAttached})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Post(ctx, Event{Kind: Quit}); err == nil {
		t.Error("Post on full queue should fail once ctx expires")
	}
}

func TestKindString(t *testing.T) {
	if PrefixAttached.String() != "prefix-attached" {
		t.Errorf("got %q", PrefixAttached.String())
	}
	if Kind(99).String() != "kind(99)" {
		t.Errorf("got %q", Kind(99).String())
	}
}
