package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []struct {
		Topic string
		Msg   Message
	}
}

func (p *fakePublisher) Publish(_ context.Context, topic string, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, struct {
		Topic string
		Msg   Message
	}{topic, msg})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func TestWithRetrySucceedsFirstTry(t *testing.T) {
	pub := &fakePublisher{}
	calls := 0
	h := WithRetry(func(ctx context.Context, msg Message) error {
		calls++
		return nil
	}, pub, "dlq", RetryPolicy{Attempts: 3, Interval: time.Millisecond})

	if err := h(context.Background(), Message{Type: "T"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if len(pub.published) != 0 {
		t.Errorf("expected no dead letters, got %d", len(pub.published))
	}
}

func TestWithRetryRecoversOnSecondAttempt(t *testing.T) {
	pub := &fakePublisher{}
	calls := 0
	h := WithRetry(func(ctx context.Context, msg Message) error {
		calls++
		if calls == 1 {
			return errors.New("store unavailable")
		}
		return nil
	}, pub, "dlq", RetryPolicy{Attempts: 3, Interval: time.Millisecond})

	if err := h(context.Background(), Message{Type: "T"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if len(pub.published) != 0 {
		t.Errorf("expected no dead letters, got %d", len(pub.published))
	}
}

func TestWithRetryExhaustionDeadLetters(t *testing.T) {
	pub := &fakePublisher{}
	calls := 0
	boom := errors.New("still broken")
	h := WithRetry(func(ctx context.Context, msg Message) error {
		calls++
		return boom
	}, pub, "dlq", RetryPolicy{Attempts: 3, Interval: time.Millisecond})

	msg := Message{Type: "T", Key: "k", Headers: map[string]string{"a": "b"}, Payload: []byte("p")}
	if err := h(context.Background(), msg); err != nil {
		t.Fatalf("expected nil after dead-lettering, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(pub.published))
	}

	dead := pub.published[0]
	if dead.Topic != "dlq" {
		t.Errorf("expected topic dlq, got %s", dead.Topic)
	}
	if got := dead.Msg.Header(HeaderFailureReason); got != "still broken" {
		t.Errorf("expected failure reason header, got %q", got)
	}
	if dead.Msg.Header("a") != "b" {
		t.Error("expected original headers to be preserved")
	}
	if string(dead.Msg.Payload) != "p" {
		t.Error("expected original payload to be preserved")
	}
}

func TestWithRetryPermanentSkipsRetries(t *testing.T) {
	pub := &fakePublisher{}
	calls := 0
	h := WithRetry(func(ctx context.Context, msg Message) error {
		calls++
		return Permanent(errors.New("missing tenant headers"))
	}, pub, "dlq", RetryPolicy{Attempts: 3, Interval: time.Millisecond})

	if err := h(context.Background(), Message{Type: "T"}); err != nil {
		t.Fatalf("expected nil after dead-lettering, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call for permanent error, got %d", calls)
	}
	if len(pub.published) != 1 {
		t.Errorf("expected 1 dead letter, got %d", len(pub.published))
	}
}

func TestIsPermanentWrapped(t *testing.T) {
	err := Permanent(errors.New("bad payload"))
	wrapped := errors.Join(errors.New("outer"), err)

	if !IsPermanent(err) {
		t.Error("expected permanent")
	}
	if !IsPermanent(wrapped) {
		t.Error("expected permanent through wrapping")
	}
	if IsPermanent(errors.New("plain")) {
		t.Error("plain error should not be permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
