// Package bus is the messaging adapter for the fulfillment services. It
// assumes at-least-once delivery: a handler that returns an error gets its
// message redelivered, so every handler in this repo must be idempotent.
//
// The wire format is a JSON payload plus string headers. Identity that must
// survive hops (event type, correlation id, tenant, trace context) travels in
// headers; payloads stay plain data records from the contracts package.
package bus

import (
	"context"
	"errors"

	"github.com/restomesh/fulfillment/internal/tenant"
)

// Header names owned by the bus layer.
const (
	HeaderEventType     = "x-event-type"
	HeaderMessageID     = "x-message-id"
	HeaderCorrelationID = "x-correlation-id"
	HeaderFailureReason = "x-failure-reason"
)

// Message is the transport-neutral envelope handlers work with.
type Message struct {
	// Type mirrors the x-event-type header; consumers dispatch on it.
	Type string

	// Key is the partitioning key handed to the transport. Saga traffic
	// keys by correlation id, catalog traffic by menu item id.
	Key string

	Headers map[string]string
	Payload []byte

	// commit acknowledges the message with its transport once handling
	// succeeded. Messages built in process (commands, tests) have none.
	commit func(ctx context.Context) error
}

// Commit acknowledges the message with the transport it was read from. The
// runner calls this after the handler returns nil; an uncommitted message is
// redelivered to the consumer group.
func (m Message) Commit(ctx context.Context) error {
	if m.commit == nil {
		return nil
	}
	return m.commit(ctx)
}

// Header returns a single header value, "" when absent.
func (m Message) Header(name string) string {
	return m.Headers[name]
}

// CorrelationID returns the saga correlation id carried in the headers.
func (m Message) CorrelationID() string {
	return m.Headers[HeaderCorrelationID]
}

// Tenant reconstructs the tenant key from the message headers.
func (m Message) Tenant() (tenant.Key, error) {
	return tenant.FromHeaders(m.Headers)
}

// Handler processes one delivered message. Returning an error signals the
// retry layer; returning nil acknowledges the message.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages to a named destination topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Close() error
}

// Consumer yields messages from a single subscribed endpoint.
type Consumer interface {
	Read(ctx context.Context) (Message, error)
	Close() error
}

// permanentError marks a failure that redelivery cannot fix (malformed
// payload, missing tenant headers). The retry layer sends these straight to
// the dead-letter topic.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the retry layer skips retries for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked with
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
