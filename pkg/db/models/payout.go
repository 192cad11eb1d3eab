package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	"github.com/angelmondragon/bazaar-backend/pkg/types"
)

// Payout is a vendor withdrawal. Its amount is reserved from the vendor balance
// when the row is created.
type Payout struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	VendorID    uuid.UUID          `gorm:"column:vendor_id;type:uuid;not null;index" json:"vendorId"`
	Amount      decimal.Decimal    `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Status      enums.PayoutStatus `gorm:"column:status;not null;default:pending;index" json:"status"`
	BankDetails types.BankDetails  `gorm:"column:bank_details;type:jsonb;serializer:json;not null" json:"bankDetails"`
	Reference   *string            `gorm:"column:reference" json:"reference"`
	Error       *string            `gorm:"column:error" json:"error"`
	ProcessedBy *uuid.UUID         `gorm:"column:processed_by;type:uuid" json:"processedBy"`
	ProcessedAt *time.Time         `gorm:"column:processed_at" json:"processedAt"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (p *Payout) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
