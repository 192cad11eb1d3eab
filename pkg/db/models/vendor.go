package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/pkg/types"
)

// Vendor carries the per-vendor ledger aggregates. Balance never goes negative.
type Vendor struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OwnerID     uuid.UUID          `gorm:"column:owner_id;type:uuid;not null;uniqueIndex:ux_vendors_owner_id" json:"ownerId"`
	StoreName   string             `gorm:"column:store_name;not null" json:"storeName"`
	IsApproved  bool               `gorm:"column:is_approved;not null;default:false" json:"isApproved"`
	Balance     decimal.Decimal    `gorm:"column:balance;type:numeric(14,2);not null;default:0" json:"balance"`
	TotalSales  decimal.Decimal    `gorm:"column:total_sales;type:numeric(14,2);not null;default:0" json:"totalSales"`
	TotalOrders int                `gorm:"column:total_orders;not null;default:0" json:"totalOrders"`
	BankDetails *types.BankDetails `gorm:"column:bank_details;type:jsonb;serializer:json" json:"bankDetails"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (v *Vendor) BeforeCreate(*gorm.DB) error {
	assignID(&v.ID)
	return nil
}
