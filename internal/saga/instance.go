// Package saga implements the order fulfillment saga: a persisted,
// correlation-keyed state machine that drives each order through inventory
// reservation, payment, and a terminal outcome, compensating on payment
// failure. It owns the business protocol; the inventory and payment
// participants are external and only ever see commands and reply events.
package saga

import (
	"time"

	"github.com/restomesh/fulfillment/internal/contracts"
	"github.com/restomesh/fulfillment/internal/tenant"
)

// State is the lifecycle position of one saga instance.
type State string

const (
	StateInitial          State = "INITIAL"
	StateInventoryPending State = "INVENTORY_PENDING"
	StatePaymentPending   State = "PAYMENT_PENDING"
	StateCompleted        State = "COMPLETED"
	StateRejected         State = "REJECTED"
)

// Instance is one in-flight or terminal order fulfillment. One row per
// correlation id; Version is the optimistic-concurrency guard incremented on
// every persisted transition.
type Instance struct {
	// CorrelationID is the stable identity every command and awaited
	// event carries. Immutable.
	CorrelationID string

	// Version increments on every persisted transition. Store updates are
	// compare-and-swap against the expected prior version.
	Version int64

	// Tenant is set at creation and enforced on every subsequent event.
	Tenant tenant.Key

	CurrentState State

	OrderID    string
	Items      []contracts.OrderItem
	OrderTotal float64

	// Audit trail. The nullable timestamps are set exactly once, by the
	// transition that earns them.
	SubmittedAt        time.Time
	LastUpdated        time.Time
	InventoryCheckedAt *time.Time
	PaymentProcessedAt *time.Time

	// ErrorMessage is populated only on rejection paths; empty otherwise.
	ErrorMessage string
}

// Terminal reports whether the instance reached a final state. Terminal
// instances are immutable: no transition applies and no write happens.
func (i *Instance) Terminal() bool {
	return i.CurrentState == StateCompleted || i.CurrentState == StateRejected
}

// clone returns a deep copy so a handler can mutate freely and discard on a
// version conflict without corrupting shared state.
func (i *Instance) clone() *Instance {
	c := *i
	c.Items = append([]contracts.OrderItem(nil), i.Items...)
	if i.InventoryCheckedAt != nil {
		t := *i.InventoryCheckedAt
		c.InventoryCheckedAt = &t
	}
	if i.PaymentProcessedAt != nil {
		t := *i.PaymentProcessedAt
		c.PaymentProcessedAt = &t
	}
	return &c
}
