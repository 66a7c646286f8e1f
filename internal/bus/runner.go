package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Runner drives one consumer endpoint: it reads messages in a loop and hands
// them to the handler on a bounded pool of workers. A message is committed
// only after its handler returns nil; anything else stays uncommitted and is
// redelivered to the group, which is the at-least-once contract the handlers
// are written against.
type Runner struct {
	consumer    Consumer
	handler     Handler
	concurrency int
}

// NewRunner builds a runner. Concurrency below 1 means serial handling,
// which is what the projector wants since it does its own partitioning.
func NewRunner(consumer Consumer, handler Handler, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{consumer: consumer, handler: handler, concurrency: concurrency}
}

// Run consumes until ctx is cancelled, then waits for in-flight handlers.
func (r *Runner) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "consumer started", "concurrency", r.concurrency)

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup

	for {
		msg, err := r.consumer.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			slog.ErrorContext(ctx, "read failed", "error", err)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil
		}

		wg.Add(1)
		go func(msg Message) {
			defer wg.Done()
			defer func() { <-sem }()

			msgCtx := ExtractTrace(ctx, msg)
			if err := r.handler(msgCtx, msg); err != nil {
				// No commit: the message stays on the transport and
				// is redelivered to the group.
				slog.ErrorContext(msgCtx, "handler error",
					"type", msg.Type, "key", msg.Key, "error", err)
				return
			}
			if err := msg.Commit(msgCtx); err != nil {
				slog.ErrorContext(msgCtx, "commit failed",
					"type", msg.Type, "key", msg.Key, "error", err)
			}
		}(msg)
	}

	wg.Wait()
	slog.InfoContext(ctx, "consumer stopped")
	return nil
}
