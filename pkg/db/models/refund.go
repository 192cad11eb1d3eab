package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/pkg/enums"
)

// Refund records every refund the provider confirmed, including the ones whose
// local effects could not be applied.
type Refund struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID           uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index" json:"orderId"`
	DisputeID         *uuid.UUID         `gorm:"column:dispute_id;type:uuid" json:"disputeId"`
	VendorID          *uuid.UUID         `gorm:"column:vendor_id;type:uuid" json:"vendorId"`
	Kind              enums.RefundKind   `gorm:"column:kind;not null" json:"kind"`
	Amount            decimal.Decimal    `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Provider          string             `gorm:"column:provider;not null" json:"provider"`
	ProviderReference *string            `gorm:"column:provider_reference" json:"providerReference"`
	Status            enums.RefundStatus `gorm:"column:status;not null" json:"status"`
	Error             *string            `gorm:"column:error" json:"error"`
	InitiatedBy       uuid.UUID          `gorm:"column:initiated_by;type:uuid;not null" json:"initiatedBy"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (r *Refund) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}
