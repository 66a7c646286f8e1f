package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedConsumer yields a fixed set of messages, then blocks until the
// runner's context is cancelled.
type scriptedConsumer struct {
	msgs []Message
	idx  int
}

func (c *scriptedConsumer) Read(ctx context.Context) (Message, error) {
	if c.idx >= len(c.msgs) {
		<-ctx.Done()
		return Message{}, ctx.Err()
	}
	m := c.msgs[c.idx]
	c.idx++
	return m, nil
}

func (c *scriptedConsumer) Close() error { return nil }

func TestRunnerCommitsOnlyAcknowledgedMessages(t *testing.T) {
	var (
		mu        sync.Mutex
		committed []string
	)
	handled := make(chan string, 2)

	commitFor := func(key string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			committed = append(committed, key)
			return nil
		}
	}

	consumer := &scriptedConsumer{msgs: []Message{
		{Type: "T", Key: "ok", commit: commitFor("ok")},
		{Type: "T", Key: "bad", commit: commitFor("bad")},
	}}

	handler := func(ctx context.Context, msg Message) error {
		defer func() { handled <- msg.Key }()
		if msg.Key == "bad" {
			return errors.New("store unavailable")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRunner(consumer, handler, 1).Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-handled:
		case <-time.After(time.Second):
			t.Fatal("handler never ran")
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(committed) != 1 || committed[0] != "ok" {
		t.Fatalf("expected only the acknowledged message committed, got %v", committed)
	}
}

func TestCommitWithoutTransportIsNoOp(t *testing.T) {
	if err := (Message{Type: "T"}).Commit(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
