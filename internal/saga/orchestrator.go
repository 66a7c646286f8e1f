package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/restomesh/fulfillment/internal/bus"
	"github.com/restomesh/fulfillment/internal/contracts"
	"github.com/restomesh/fulfillment/internal/tenant"
)

// TimeoutReason is recorded as the ErrorMessage when a payment-pending
// instance expires without a terminal payment event.
const TimeoutReason = "payment timed out"

// Topics names the logical endpoints commands are addressed to. Commands go
// to a fixed endpoint per participant, never a specific instance, so the
// participants can scale independently.
type Topics struct {
	InventoryCommands string
	PaymentCommands   string
}

// Orchestrator drives saga instances in response to bus events. It is
// stateless between messages: all progress lives in the store, so the
// process can restart freely between a command being sent and its correlated
// event arriving.
type Orchestrator struct {
	store    Store
	pub      bus.Publisher
	topics   Topics
	timeouts *TimeoutScheduler

	// now is swappable for tests.
	now func() time.Time
}

// NewOrchestrator wires the orchestrator and its payment timeout scheduler.
// paymentTimeout <= 0 disables timeouts (useful in tests driving events
// explicitly).
func NewOrchestrator(store Store, pub bus.Publisher, topics Topics, paymentTimeout time.Duration) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		pub:    pub,
		topics: topics,
		now:    time.Now,
	}
	if paymentTimeout > 0 {
		o.timeouts = NewTimeoutScheduler(paymentTimeout, o.expirePayment)
	}
	return o
}

// HandleMessage is the bus entry point for all saga traffic. It decodes the
// envelope, reconstructs the tenant, and applies the event.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg bus.Message) error {
	key, err := msg.Tenant()
	if err != nil {
		// Missing tenant headers are a configuration error, never a
		// retry candidate.
		return bus.Permanent(err)
	}
	ctx = tenant.NewContext(ctx, key)

	ev, err := decodeEvent(msg)
	if err != nil {
		return bus.Permanent(err)
	}

	if ev.Type == contracts.TypeOrderSubmitted {
		return o.startSaga(ctx, key, ev)
	}
	return o.applyEvent(ctx, key, ev)
}

// startSaga creates the instance for a submitted order and advances it
// through the Initial -> InventoryPending transition.
func (o *Orchestrator) startSaga(ctx context.Context, key tenant.Key, ev Event) error {
	now := o.now()
	inst := &Instance{
		CorrelationID: ev.CorrelationID,
		Version:       0,
		Tenant:        key,
		CurrentState:  StateInitial,
	}

	next, cmds, ok := evaluate(inst, ev, now)
	if !ok {
		return fmt.Errorf("saga: no transition for OrderSubmitted from %s", inst.CurrentState)
	}

	// Persist first, publish after. A duplicate OrderSubmitted hits
	// ErrAlreadyExists and is routed through the normal apply path, which
	// re-sends ReserveInventory if the stored instance is still waiting on
	// it. That covers the crash window between the two steps.
	if err := o.store.Create(ctx, next); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return o.applyEvent(ctx, key, ev)
		}
		return err
	}

	slog.InfoContext(ctx, "saga started",
		"correlation_id", next.CorrelationID,
		"order_id", next.OrderID,
		"tenant", key.String(),
		"total", next.OrderTotal)

	return o.publish(ctx, next, cmds)
}

// applyEvent loads the instance, evaluates the transition table, and
// persists the result with a compare-and-swap. Events not valid for the
// current state never mutate it; if such an event is the one that produced
// the current state, its command is re-sent, because the delivery that wrote
// the state may have failed before its publish went out. Everything else is
// ignored, which covers stale redeliveries and out-of-order arrivals.
func (o *Orchestrator) applyEvent(ctx context.Context, key tenant.Key, ev Event) error {
	inst, err := o.store.Get(ctx, ev.CorrelationID)
	if err != nil {
		// A brand-new correlation id may not be visible yet; returning
		// the error lets the retry layer re-read, and a truly unknown
		// id dead-letters after exhaustion.
		return err
	}

	if inst.Tenant != key {
		return bus.Permanent(fmt.Errorf("saga: tenant mismatch for %s: instance %s, message %s",
			ev.CorrelationID, inst.Tenant, key))
	}

	next, cmds, ok := evaluate(inst, ev, o.now())
	if !ok {
		if replay := replayCommands(inst, ev); len(replay) > 0 {
			slog.InfoContext(ctx, "redelivered event, re-sending command",
				"correlation_id", ev.CorrelationID,
				"event", ev.Type,
				"state", inst.CurrentState)
			return o.publish(ctx, inst, replay)
		}
		slog.InfoContext(ctx, "event ignored for current state",
			"correlation_id", ev.CorrelationID,
			"event", ev.Type,
			"state", inst.CurrentState)
		return nil
	}

	if err := o.store.Update(ctx, next, inst.Version); err != nil {
		// A version conflict means a concurrent handler already
		// advanced the instance; discard our side effects and let the
		// redelivery re-evaluate.
		return err
	}

	o.adjustTimeout(next)

	slog.InfoContext(ctx, "saga transitioned",
		"correlation_id", next.CorrelationID,
		"event", ev.Type,
		"from", inst.CurrentState,
		"to", next.CurrentState)

	return o.publish(ctx, next, cmds)
}

// adjustTimeout arms the payment timer on entering PaymentPending and
// disarms it on reaching a terminal state.
func (o *Orchestrator) adjustTimeout(inst *Instance) {
	if o.timeouts == nil {
		return
	}
	switch {
	case inst.CurrentState == StatePaymentPending:
		o.timeouts.Arm(inst.CorrelationID)
	case inst.Terminal():
		o.timeouts.Disarm(inst.CorrelationID)
	}
}

// expirePayment is the timer callback: it feeds a synthetic PaymentFailed
// through the normal transition path. If the real payment event won the race
// the transition is simply not valid anymore and the call is a no-op. There
// is no bus redelivery behind this path, so any other failure re-arms the
// timer and the expiry runs again after another full delay.
func (o *Orchestrator) expirePayment(correlationID string) {
	ctx := context.Background()

	inst, err := o.store.Get(ctx, correlationID)
	if err != nil {
		slog.ErrorContext(ctx, "payment timeout: instance lookup failed",
			"correlation_id", correlationID, "error", err)
		o.timeouts.Arm(correlationID)
		return
	}

	ev := Event{
		Type:          contracts.TypePaymentFailed,
		CorrelationID: correlationID,
		OrderID:       inst.OrderID,
		Reason:        TimeoutReason,
	}
	ctx = tenant.NewContext(ctx, inst.Tenant)
	if err := o.applyEvent(ctx, inst.Tenant, ev); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// The real payment event arrived concurrently; it wins.
			return
		}
		slog.ErrorContext(ctx, "payment timeout: transition failed",
			"correlation_id", correlationID, "error", err)
		o.timeouts.Arm(correlationID)
	}
}

// ResumeTimeouts re-arms the payment timer for every instance that was in
// PaymentPending when the process last stopped. Call once on startup.
func (o *Orchestrator) ResumeTimeouts(ctx context.Context) error {
	if o.timeouts == nil {
		return nil
	}

	pending, err := o.store.ListByState(ctx, StatePaymentPending)
	if err != nil {
		return fmt.Errorf("saga: resume timeouts: %w", err)
	}
	for _, inst := range pending {
		o.timeouts.Arm(inst.CorrelationID)
	}
	if len(pending) > 0 {
		slog.InfoContext(ctx, "payment timeouts re-armed", "count", len(pending))
	}
	return nil
}

// Stop cancels pending timers. Call on shutdown.
func (o *Orchestrator) Stop() {
	if o.timeouts != nil {
		o.timeouts.Stop()
	}
}

// publish sends the transition's commands after the state write succeeded.
// Each command is addressed to its participant's endpoint and keyed by
// correlation id so redeliveries of the same saga stay ordered.
func (o *Orchestrator) publish(ctx context.Context, inst *Instance, cmds []Command) error {
	for _, cmd := range cmds {
		payload, err := json.Marshal(cmd.Payload)
		if err != nil {
			return fmt.Errorf("saga: marshal %s: %w", cmd.Type, err)
		}

		topic, err := o.topicFor(cmd.Type)
		if err != nil {
			return err
		}

		headers := inst.Tenant.Headers()
		headers[bus.HeaderCorrelationID] = inst.CorrelationID

		msg := bus.Message{
			Type:    cmd.Type,
			Key:     inst.CorrelationID,
			Headers: headers,
			Payload: payload,
		}
		if err := o.pub.Publish(ctx, topic, msg); err != nil {
			return err
		}

		slog.InfoContext(ctx, "command sent",
			"correlation_id", inst.CorrelationID,
			"command", cmd.Type,
			"topic", topic)
	}
	return nil
}

func (o *Orchestrator) topicFor(commandType string) (string, error) {
	switch commandType {
	case contracts.TypeReserveInventory, contracts.TypeReleaseInventory:
		return o.topics.InventoryCommands, nil
	case contracts.TypePaymentRequested:
		return o.topics.PaymentCommands, nil
	default:
		return "", fmt.Errorf("saga: no endpoint for command %s", commandType)
	}
}

// decodeEvent turns a wire message into the orchestrator's Event. The
// correlation id comes from the header for saga traffic; OrderSubmitted has
// none yet, so the order id doubles as the correlation id, which keeps
// resubmissions of the same order detectable as duplicates.
func decodeEvent(msg bus.Message) (Event, error) {
	ev := Event{Type: msg.Type, CorrelationID: msg.CorrelationID()}

	switch msg.Type {
	case contracts.TypeOrderSubmitted:
		var p contracts.OrderSubmitted
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("saga: decode %s: %w", msg.Type, err)
		}
		if p.OrderID == "" {
			return Event{}, fmt.Errorf("saga: %s without order id", msg.Type)
		}
		ev.Order = &p
		ev.OrderID = p.OrderID
		if ev.CorrelationID == "" {
			ev.CorrelationID = p.OrderID
		}

	case contracts.TypeInventoryReserved:
		var p contracts.InventoryReserved
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("saga: decode %s: %w", msg.Type, err)
		}
		ev.OrderID = p.OrderID
		if ev.CorrelationID == "" {
			ev.CorrelationID = p.CorrelationID
		}

	case contracts.TypeInventoryReserveFaulted:
		var p contracts.InventoryReserveFaulted
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("saga: decode %s: %w", msg.Type, err)
		}
		ev.OrderID = p.OrderID
		ev.Reason = p.Reason
		if ev.CorrelationID == "" {
			ev.CorrelationID = p.CorrelationID
		}

	case contracts.TypePaymentSucceeded:
		var p contracts.PaymentSucceeded
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("saga: decode %s: %w", msg.Type, err)
		}
		ev.OrderID = p.OrderID
		if ev.CorrelationID == "" {
			ev.CorrelationID = p.CorrelationID
		}

	case contracts.TypePaymentFailed:
		var p contracts.PaymentFailed
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("saga: decode %s: %w", msg.Type, err)
		}
		ev.OrderID = p.OrderID
		ev.Reason = p.Reason
		if ev.CorrelationID == "" {
			ev.CorrelationID = p.CorrelationID
		}

	default:
		return Event{}, fmt.Errorf("saga: unknown event type %q", msg.Type)
	}

	if ev.CorrelationID == "" {
		return Event{}, fmt.Errorf("saga: %s without correlation id", msg.Type)
	}
	return ev, nil
}
