package orders

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	"github.com/angelmondragon/bazaar-backend/pkg/types"
)

// CheckoutItem is one requested cart line.
type CheckoutItem struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0,lte=1000"`
}

// CheckoutInput is what a customer submits to place an order.
type CheckoutInput struct {
	CustomerID      uuid.UUID
	Email           string
	Items           []CheckoutItem
	ShippingAddress types.Address
	PaymentMethod   enums.PaymentProvider
}

// CheckoutResult carries the persisted pending order and where to send the
// customer to pay.
type CheckoutResult struct {
	Order       *models.Order `json:"order"`
	RedirectURL string        `json:"redirectUrl"`
	Reference   string        `json:"reference"`
}

// Actor is the authenticated caller as seen by order reads.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// ListResult wraps a page of orders and the cursor for the next page.
type ListResult struct {
	Items  []models.Order `json:"items"`
	Cursor string         `json:"cursor"`
}
