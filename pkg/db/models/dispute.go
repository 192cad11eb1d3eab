package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/pkg/enums"
)

// Dispute is tied 1:1 to an order. Resolved and cancelled are terminal.
type Dispute struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID     uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_disputes_order_id" json:"orderId"`
	CustomerID  uuid.UUID           `gorm:"column:customer_id;type:uuid;not null;index" json:"customerId"`
	VendorID    uuid.UUID           `gorm:"column:vendor_id;type:uuid;not null;index" json:"vendorId"`
	Reason      enums.DisputeReason `gorm:"column:reason;not null" json:"reason"`
	Description string              `gorm:"column:description;not null" json:"description"`
	Evidence    []string            `gorm:"column:evidence;type:jsonb;serializer:json" json:"evidence"`
	Status      enums.DisputeStatus `gorm:"column:status;not null;default:open;index" json:"status"`
	Responses   []DisputeResponse   `gorm:"foreignKey:DisputeID;constraint:OnDelete:CASCADE" json:"responses"`
	Decision    AdminDecision       `gorm:"embedded;embeddedPrefix:decision_" json:"decision"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (d *Dispute) BeforeCreate(*gorm.DB) error {
	assignID(&d.ID)
	return nil
}

// AdminDecision is recorded once, when the dispute is resolved.
type AdminDecision struct {
	Action       enums.DisputeAction `gorm:"column:action;not null;default:none" json:"action"`
	Note         *string             `gorm:"column:note" json:"note"`
	RefundAmount *decimal.Decimal    `gorm:"column:refund_amount;type:numeric(14,2)" json:"refundAmount"`
	DecidedBy    *uuid.UUID          `gorm:"column:decided_by;type:uuid" json:"decidedBy"`
	DecidedAt    *time.Time          `gorm:"column:decided_at" json:"decidedAt"`
}

type DisputeResponse struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	DisputeID     uuid.UUID       `gorm:"column:dispute_id;type:uuid;not null;index" json:"disputeId"`
	ResponderID   uuid.UUID       `gorm:"column:responder_id;type:uuid;not null" json:"responderId"`
	ResponderRole enums.ActorRole `gorm:"column:responder_role;not null" json:"responderRole"`
	Message       string          `gorm:"column:message;not null" json:"message"`
	Attachments   []string        `gorm:"column:attachments;type:jsonb;serializer:json" json:"attachments"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (r *DisputeResponse) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}
