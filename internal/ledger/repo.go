package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	"github.com/angelmondragon/bazaar-backend/pkg/pagination"
)

// Repository manages persistence for ledger events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.LedgerEvent) error
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
	SumAmount(ctx context.Context, orderID, vendorID uuid.UUID, eventType enums.LedgerEventType) (decimal.Decimal, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.LedgerEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.LedgerEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// SumAmount totals the signed amounts of one event type for an order/vendor pair.
func (r *repository) SumAmount(ctx context.Context, orderID, vendorID uuid.UUID, eventType enums.LedgerEventType) (decimal.Decimal, error) {
	var events []models.LedgerEvent
	if err := r.db.WithContext(ctx).
		Select("amount").
		Where("order_id = ? AND vendor_id = ? AND type = ?", orderID, vendorID, eventType).
		Find(&events).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range events {
		total = total.Add(e.Amount)
	}
	return total, nil
}

func (r *repository) ListByVendor(ctx context.Context, vendorID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.LedgerEvent, error) {
	query := r.db.WithContext(ctx).Where("vendor_id = ?", vendorID)
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var events []models.LedgerEvent
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
