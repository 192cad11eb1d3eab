package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/pkg/enums"
)

// LedgerEvent is an append-only record of one vendor balance movement. Amount
// is signed: credits are positive, debits negative.
type LedgerEvent struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	VendorID  uuid.UUID             `gorm:"column:vendor_id;type:uuid;not null;index" json:"vendorId"`
	OrderID   *uuid.UUID            `gorm:"column:order_id;type:uuid;index" json:"orderId"`
	PayoutID  *uuid.UUID            `gorm:"column:payout_id;type:uuid" json:"payoutId"`
	DisputeID *uuid.UUID            `gorm:"column:dispute_id;type:uuid" json:"disputeId"`
	Type      enums.LedgerEventType `gorm:"column:type;not null" json:"type"`
	Gross     decimal.Decimal       `gorm:"column:gross;type:numeric(14,2);not null;default:0" json:"gross"`
	Amount    decimal.Decimal       `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Metadata  json.RawMessage       `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt time.Time             `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (e *LedgerEvent) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}
