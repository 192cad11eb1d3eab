package disputes

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	"github.com/angelmondragon/bazaar-backend/pkg/pagination"
)

// OpenInput is a customer's claim against one vendor on a paid order.
type OpenInput struct {
	OrderID     uuid.UUID           `json:"orderId" validate:"required"`
	VendorID    *uuid.UUID          `json:"vendorId,omitempty"`
	Reason      enums.DisputeReason `json:"reason" validate:"required"`
	Description string              `json:"description" validate:"required,max=4000"`
	Evidence    []string            `json:"evidence,omitempty" validate:"max=10,dive,url"`
}

type RespondInput struct {
	Message               string   `json:"message" validate:"required,max=4000"`
	Attachments           []string `json:"attachments,omitempty" validate:"max=10,dive,url"`
	RequestCustomerAction bool     `json:"requestCustomerAction"`
}

type ResolveInput struct {
	Action       enums.DisputeAction `json:"action" validate:"required"`
	Note         *string             `json:"note,omitempty" validate:"omitempty,max=4000"`
	RefundAmount *decimal.Decimal    `json:"refundAmount,omitempty"`
}

type ListParams struct {
	pagination.Params
	Status *enums.DisputeStatus
}

type ListResult struct {
	Items  []models.Dispute `json:"items"`
	Cursor string           `json:"cursor"`
}
