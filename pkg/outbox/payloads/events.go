package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VendorAmount is one vendor's share of a money movement.
type VendorAmount struct {
	VendorID uuid.UUID       `json:"vendorId"`
	Gross    decimal.Decimal `json:"gross"`
	Net      decimal.Decimal `json:"net"`
}

type OrderPaidEvent struct {
	OrderID          uuid.UUID       `json:"orderId"`
	OrderNumber      string          `json:"orderNumber"`
	CustomerID       uuid.UUID       `json:"customerId"`
	Total            decimal.Decimal `json:"total"`
	Currency         string          `json:"currency"`
	PaymentMethod    string          `json:"paymentMethod"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	PaidAt           time.Time       `json:"paidAt"`
	Vendors          []VendorAmount  `json:"vendors"`
}

type OrderRefundedEvent struct {
	OrderID           uuid.UUID       `json:"orderId"`
	RefundID          uuid.UUID       `json:"refundId"`
	DisputeID         *uuid.UUID      `json:"disputeId,omitempty"`
	Kind              string          `json:"kind"`
	Amount            decimal.Decimal `json:"amount"`
	RefundedAmount    decimal.Decimal `json:"refundedAmount"`
	PaymentStatus     string          `json:"paymentStatus"`
	ProviderReference string          `json:"providerReference,omitempty"`
	StockRestored     bool            `json:"stockRestored"`
	Vendors           []VendorAmount  `json:"vendors"`
}

type DisputeOpenedEvent struct {
	DisputeID  uuid.UUID `json:"disputeId"`
	OrderID    uuid.UUID `json:"orderId"`
	CustomerID uuid.UUID `json:"customerId"`
	VendorID   uuid.UUID `json:"vendorId"`
	Reason     string    `json:"reason"`
}

type DisputeResolvedEvent struct {
	DisputeID    uuid.UUID        `json:"disputeId"`
	OrderID      uuid.UUID        `json:"orderId"`
	Action       string           `json:"action"`
	RefundAmount *decimal.Decimal `json:"refundAmount,omitempty"`
	DecidedBy    uuid.UUID        `json:"decidedBy"`
	DecidedAt    time.Time        `json:"decidedAt"`
}

type PayoutRequestedEvent struct {
	PayoutID uuid.UUID       `json:"payoutId"`
	VendorID uuid.UUID       `json:"vendorId"`
	Amount   decimal.Decimal `json:"amount"`
}

type PayoutProcessedEvent struct {
	PayoutID  uuid.UUID       `json:"payoutId"`
	VendorID  uuid.UUID       `json:"vendorId"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Reference *string         `json:"reference,omitempty"`
	Error     *string         `json:"error,omitempty"`
}

// NotificationRequestedEvent is consumed by the email pipeline.
type NotificationRequestedEvent struct {
	Kind      string         `json:"kind"`
	Recipient string         `json:"recipient"`
	Subject   string         `json:"subject"`
	Data      map[string]any `json:"data,omitempty"`
}
