package saga

import (
	"time"

	"github.com/restomesh/fulfillment/internal/contracts"
)

// Event is the orchestrator's flattened view of an inbound saga event. The
// bus handler decodes the wire payload into this before evaluation so the
// transition table stays independent of serialization.
type Event struct {
	Type          string
	CorrelationID string
	OrderID       string
	Reason        string

	// Order carries the payload of OrderSubmitted, nil for every other type.
	Order *contracts.OrderSubmitted
}

// Command is an outbound message the transition asks the orchestrator to
// publish after the new state has been persisted.
type Command struct {
	Type    string
	Payload any
}

// transitionKey is one cell of the from-state × event table.
type transitionKey struct {
	From  State
	Event string
}

// transition is the action half of a table cell: mutate the instance, then
// report which commands to send.
type transition struct {
	To       State
	apply    func(inst *Instance, ev Event, now time.Time)
	commands func(inst *Instance) []Command

	// replayable reports whether inst, already sitting in To, got there
	// via this transition. Only needed when To is reachable through more
	// than one row; nil means the event type alone is proof enough.
	replayable func(inst *Instance) bool
}

// transitions is the complete protocol. Any (state, event) pair not listed
// here never mutates the instance: a stale InventoryReserved arriving after
// the saga moved on can never advance it a second time. Such deliveries may
// still re-send the command of the transition they already caused, see
// replayCommands.
var transitions = map[transitionKey]transition{
	{StateInitial, contracts.TypeOrderSubmitted}: {
		To: StateInventoryPending,
		apply: func(inst *Instance, ev Event, now time.Time) {
			inst.OrderID = ev.Order.OrderID
			inst.Items = append([]contracts.OrderItem(nil), ev.Order.Items...)
			inst.OrderTotal = ev.Order.Total
			inst.SubmittedAt = now
		},
		commands: func(inst *Instance) []Command {
			return []Command{{
				Type: contracts.TypeReserveInventory,
				Payload: contracts.ReserveInventory{
					CorrelationID: inst.CorrelationID,
					OrderID:       inst.OrderID,
					Items:         inst.Items,
				},
			}}
		},
	},

	{StateInventoryPending, contracts.TypeInventoryReserved}: {
		To: StatePaymentPending,
		apply: func(inst *Instance, ev Event, now time.Time) {
			t := now
			inst.InventoryCheckedAt = &t
		},
		commands: func(inst *Instance) []Command {
			return []Command{{
				Type: contracts.TypePaymentRequested,
				Payload: contracts.PaymentRequested{
					CorrelationID: inst.CorrelationID,
					OrderID:       inst.OrderID,
					Amount:        inst.OrderTotal,
				},
			}}
		},
	},

	// Inventory rejection is a terminal business failure: no retry, no
	// compensation needed since nothing was reserved.
	{StateInventoryPending, contracts.TypeInventoryReserveFaulted}: {
		To: StateRejected,
		apply: func(inst *Instance, ev Event, now time.Time) {
			t := now
			inst.InventoryCheckedAt = &t
			inst.ErrorMessage = ev.Reason
		},
	},

	{StatePaymentPending, contracts.TypePaymentSucceeded}: {
		To: StateCompleted,
		apply: func(inst *Instance, ev Event, now time.Time) {
			t := now
			inst.PaymentProcessedAt = &t
		},
	},

	// Payment failure releases the reservation. The release is
	// fire-and-forget: the saga terminates without awaiting confirmation,
	// and the inventory participant must handle the release idempotently.
	{StatePaymentPending, contracts.TypePaymentFailed}: {
		To: StateRejected,
		apply: func(inst *Instance, ev Event, now time.Time) {
			t := now
			inst.PaymentProcessedAt = &t
			inst.ErrorMessage = ev.Reason
		},
		// Rejected is also reachable via an inventory fault, which must
		// not release anything. The payment timestamp tells them apart.
		replayable: func(inst *Instance) bool {
			return inst.PaymentProcessedAt != nil
		},
		commands: func(inst *Instance) []Command {
			return []Command{{
				Type: contracts.TypeReleaseInventory,
				Payload: contracts.ReleaseInventory{
					CorrelationID: inst.CorrelationID,
					OrderID:       inst.OrderID,
					Items:         inst.Items,
				},
			}}
		},
	},
}

// evaluate applies ev to a copy of inst. It returns the advanced copy and
// the commands to publish, or ok=false when the event is not valid for the
// current state, in which case the caller must ignore the event entirely.
func evaluate(inst *Instance, ev Event, now time.Time) (*Instance, []Command, bool) {
	tr, found := transitions[transitionKey{From: inst.CurrentState, Event: ev.Type}]
	if !found {
		return nil, nil, false
	}

	next := inst.clone()
	tr.apply(next, ev, now)
	next.CurrentState = tr.To
	next.Version++
	next.LastUpdated = now

	var cmds []Command
	if tr.commands != nil {
		cmds = tr.commands(next)
	}
	return next, cmds, true
}

// replayCommands recovers the outbound command for a redelivered event whose
// transition is already persisted. The earlier delivery may have advanced the
// state and then died before its publish went out, so the command is derived
// again from the stored instance and re-sent. Returns nil when ev did not
// produce the current state or the transition sends nothing.
func replayCommands(inst *Instance, ev Event) []Command {
	for key, tr := range transitions {
		if key.Event != ev.Type || tr.To != inst.CurrentState {
			continue
		}
		if tr.commands == nil {
			return nil
		}
		if tr.replayable != nil && !tr.replayable(inst) {
			return nil
		}
		return tr.commands(inst)
	}
	return nil
}
