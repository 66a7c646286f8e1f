package bus

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy is a fixed-interval retry: Attempts tries total, Interval
// apart. No backoff; the bus contract is a small fixed number of retries
// and then the dead-letter topic, never a silent drop.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

// DefaultRetryPolicy matches the documented bus behavior: 3 attempts, 5s apart.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Interval: 5 * time.Second}

// WithRetry wraps next so transient failures are retried per policy and
// exhausted or permanent failures are published to the dead-letter topic.
// The wrapped handler always returns nil once the message has been
// dead-lettered, so the consumer can commit and move on.
func WithRetry(next Handler, pub Publisher, deadLetterTopic string, policy RetryPolicy) Handler {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}

	return func(ctx context.Context, msg Message) error {
		var lastErr error

		for attempt := 1; attempt <= policy.Attempts; attempt++ {
			err := next(ctx, msg)
			if err == nil {
				return nil
			}
			lastErr = err

			if IsPermanent(err) {
				slog.ErrorContext(ctx, "message rejected permanently",
					"type", msg.Type, "key", msg.Key, "error", err)
				break
			}

			slog.WarnContext(ctx, "handler failed, will retry",
				"type", msg.Type, "key", msg.Key,
				"attempt", attempt, "max_attempts", policy.Attempts, "error", err)

			if attempt == policy.Attempts {
				break
			}
			select {
			case <-time.After(policy.Interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return deadLetter(ctx, pub, deadLetterTopic, msg, lastErr)
	}
}

// deadLetter forwards the raw message to the dead-letter topic with the
// failure reason attached, preserving the original headers for inspection.
func deadLetter(ctx context.Context, pub Publisher, topic string, msg Message, cause error) error {
	headers := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderFailureReason] = cause.Error()

	dead := Message{
		Type:    msg.Type,
		Key:     msg.Key,
		Headers: headers,
		Payload: msg.Payload,
	}
	if err := pub.Publish(ctx, topic, dead); err != nil {
		// Returning the publish error keeps the original message
		// uncommitted so it is redelivered rather than lost.
		return err
	}

	slog.ErrorContext(ctx, "message dead-lettered",
		"type", msg.Type, "key", msg.Key, "topic", topic, "error", cause)
	return nil
}
