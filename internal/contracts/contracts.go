// Package contracts defines the versioned command and event records exchanged
// between the fulfillment orchestrator and its participants, plus the catalog
// domain events consumed by the projector.
//
// These are plain data records: the orchestrator depends only on their shape,
// never on how a participant computes its answer. All records are serialized
// as JSON on the bus; tenant and correlation identity travel in message
// headers, not in the payload (see the bus package).
package contracts

// OrderItem is a menu item / quantity pair inside an order.
type OrderItem struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
}

// OrderSubmitted starts a fulfillment saga. Published by the order intake
// service, which is outside this repo.
type OrderSubmitted struct {
	OrderID string      `json:"order_id"`
	Items   []OrderItem `json:"items"`
	Total   float64     `json:"total"`
}

// Commands sent by the saga to its participants.

// ReserveInventory asks the inventory participant to hold stock for an order.
type ReserveInventory struct {
	CorrelationID string      `json:"correlation_id"`
	OrderID       string      `json:"order_id"`
	Items         []OrderItem `json:"items"`
}

// ReleaseInventory undoes an earlier reservation. Sent as compensation when
// payment fails; the inventory participant must handle it idempotently
// because the bus may deliver it more than once.
type ReleaseInventory struct {
	CorrelationID string      `json:"correlation_id"`
	OrderID       string      `json:"order_id"`
	Items         []OrderItem `json:"items"`
}

// PaymentRequested asks the payment participant to charge the order total.
type PaymentRequested struct {
	CorrelationID string  `json:"correlation_id"`
	OrderID       string  `json:"order_id"`
	Amount        float64 `json:"amount"`
}

// Reply events from the participants.

type InventoryReserved struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
}

type InventoryReserveFaulted struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason"`
}

type PaymentSucceeded struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
}

type PaymentFailed struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason"`
}

// Message type names used in the x-event-type header. Consumers dispatch on
// these, so they are part of the wire contract and must not change.
const (
	TypeOrderSubmitted          = "OrderSubmitted"
	TypeReserveInventory        = "ReserveInventory"
	TypeReleaseInventory        = "ReleaseInventory"
	TypePaymentRequested        = "PaymentRequested"
	TypeInventoryReserved       = "InventoryReserved"
	TypeInventoryReserveFaulted = "InventoryReserveFaulted"
	TypePaymentSucceeded        = "PaymentSucceeded"
	TypePaymentFailed           = "PaymentFailed"
)
