package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	"github.com/angelmondragon/bazaar-backend/pkg/types"
)

// Order is the financial snapshot of a checkout plus its mutable settlement
// and fulfillment state. Total is fixed at creation.
type Order struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderNumber      string                `gorm:"column:order_number;not null;uniqueIndex" json:"orderNumber"`
	CustomerID       uuid.UUID             `gorm:"column:customer_id;type:uuid;not null;index" json:"customerId"`
	CustomerEmail    string                `gorm:"column:customer_email;not null" json:"customerEmail"`
	Items            []OrderItem           `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	ShippingAddress  types.Address         `gorm:"column:shipping_address;type:jsonb;serializer:json;not null" json:"shippingAddress"`
	PaymentMethod    enums.PaymentProvider `gorm:"column:payment_method;not null" json:"paymentMethod"`
	PaymentStatus    enums.PaymentStatus   `gorm:"column:payment_status;not null;default:pending;index" json:"paymentStatus"`
	OrderStatus      enums.OrderStatus     `gorm:"column:order_status;not null;default:pending" json:"orderStatus"`
	Currency         string                `gorm:"column:currency;not null" json:"currency"`
	Subtotal         decimal.Decimal       `gorm:"column:subtotal;type:numeric(14,2);not null" json:"subtotal"`
	ShippingFee      decimal.Decimal       `gorm:"column:shipping_fee;type:numeric(14,2);not null" json:"shippingFee"`
	Tax              decimal.Decimal       `gorm:"column:tax;type:numeric(14,2);not null" json:"tax"`
	Total            decimal.Decimal       `gorm:"column:total;type:numeric(14,2);not null" json:"total"`
	PaymentReference *string               `gorm:"column:payment_reference" json:"paymentReference"`
	RefundedAmount   decimal.Decimal       `gorm:"column:refunded_amount;type:numeric(14,2);not null;default:0" json:"refundedAmount"`
	PaidAt           *time.Time            `gorm:"column:paid_at" json:"paidAt"`
	DeliveredAt      *time.Time            `gorm:"column:delivered_at" json:"deliveredAt"`
	StockRestoredAt  *time.Time            `gorm:"column:stock_restored_at" json:"stockRestoredAt"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// RefundableAmount is what can still be returned to the customer.
func (o *Order) RefundableAmount() decimal.Decimal {
	remaining := o.Total.Sub(o.RefundedAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// VendorIDs returns the distinct vendors on the order in item order.
func (o *Order) VendorIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(o.Items))
	ids := make([]uuid.UUID, 0, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.VendorID]; ok {
			continue
		}
		seen[item.VendorID] = struct{}{}
		ids = append(ids, item.VendorID)
	}
	return ids
}

// HasVendor reports whether vendorID sold at least one item on the order.
func (o *Order) HasVendor(vendorID uuid.UUID) bool {
	for _, item := range o.Items {
		if item.VendorID == vendorID {
			return true
		}
	}
	return false
}

// GrossByVendor sums item subtotals per vendor.
func (o *Order) GrossByVendor() map[uuid.UUID]decimal.Decimal {
	out := make(map[uuid.UUID]decimal.Decimal)
	for _, item := range o.Items {
		out[item.VendorID] = out[item.VendorID].Add(item.Subtotal)
	}
	return out
}

// OrderItem is a priced snapshot of one product line.
type OrderItem struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID   uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index" json:"orderId"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null" json:"productId"`
	VendorID  uuid.UUID       `gorm:"column:vendor_id;type:uuid;not null;index" json:"vendorId"`
	Name      string          `gorm:"column:name;not null" json:"name"`
	Image     *string         `gorm:"column:image" json:"image"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(14,2);not null" json:"price"`
	Quantity  int             `gorm:"column:quantity;not null" json:"quantity"`
	Subtotal  decimal.Decimal `gorm:"column:subtotal;type:numeric(14,2);not null" json:"subtotal"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (OrderItem) TableName() string { return "order_items" }

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}
