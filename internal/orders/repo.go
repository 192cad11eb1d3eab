package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	"github.com/angelmondragon/bazaar-backend/pkg/pagination"
)

// unsettledStatuses are the payment states finalize may move to paid.
var unsettledStatuses = []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusFailed}

// refundableStatuses are the payment states a refund may be applied to.
var refundableStatuses = []enums.PaymentStatus{enums.PaymentStatusPaid, enums.PaymentStatusPartiallyRefunded}

// Repository persists orders. Every state transition is a conditional UPDATE
// whose affected-row count tells the caller whether it won the race.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	SetPaymentReference(ctx context.Context, id uuid.UUID, reference string) error
	MarkPaid(ctx context.Context, id uuid.UUID, reference *string, paidAt time.Time) (int64, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (int64, error)
	ApplyRefund(ctx context.Context, id uuid.UUID, expectedRefunded, newRefunded decimal.Decimal, status enums.PaymentStatus, cancel bool) (int64, error)
	MarkStockRestored(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)
	DeleteUnpaid(ctx context.Context, id uuid.UUID) (int64, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, at time.Time) (int64, error)
	List(ctx context.Context, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.Order, error)
	ListUnpaidBefore(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
}

// ListFilter scopes a listing. Nil fields are not applied.
type ListFilter struct {
	CustomerID    *uuid.UUID
	VendorID      *uuid.UUID
	PaymentStatus *enums.PaymentStatus
	OrderStatus   *enums.OrderStatus
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) SetPaymentReference(ctx context.Context, id uuid.UUID, reference string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"payment_reference": reference,
			"updated_at":        time.Now().UTC(),
		}).Error
}

// MarkPaid is the settlement guard: only one caller can move an unsettled,
// still-pending order to paid.
func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, reference *string, paidAt time.Time) (int64, error) {
	updates := map[string]any{
		"payment_status": enums.PaymentStatusPaid,
		"order_status":   enums.OrderStatusProcessing,
		"paid_at":        paidAt,
		"updated_at":     paidAt,
	}
	if reference != nil && *reference != "" {
		updates["payment_reference"] = *reference
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status IN ? AND order_status = ?", id, unsettledStatuses, enums.OrderStatusPending).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", id, enums.PaymentStatusPending).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusFailed,
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// ApplyRefund compares refunded_amount against the value the caller read, so
// two refunds computed from the same snapshot cannot both land.
func (r *repository) ApplyRefund(ctx context.Context, id uuid.UUID, expectedRefunded, newRefunded decimal.Decimal, status enums.PaymentStatus, cancel bool) (int64, error) {
	updates := map[string]any{
		"payment_status":  status,
		"refunded_amount": newRefunded,
		"updated_at":      time.Now().UTC(),
	}
	if cancel {
		updates["order_status"] = enums.OrderStatusCancelled
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status IN ? AND refunded_amount = ? AND total >= ?", id, refundableStatuses, expectedRefunded, newRefunded).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) MarkStockRestored(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND stock_restored_at IS NULL", id).
		Update("stock_restored_at", at)
	return res.RowsAffected, res.Error
}

// DeleteUnpaid removes an order that never settled. Items cascade.
func (r *repository) DeleteUnpaid(ctx context.Context, id uuid.UUID) (int64, error) {
	db := r.db.WithContext(ctx)
	res := db.
		Where("id = ? AND payment_status IN ? AND order_status = ?", id, unsettledStatuses, enums.OrderStatusPending).
		Delete(&models.Order{})
	if res.Error != nil || res.RowsAffected == 0 {
		return res.RowsAffected, res.Error
	}
	if err := db.Where("order_id = ?", id).Delete(&models.OrderItem{}).Error; err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, at time.Time) (int64, error) {
	updates := map[string]any{
		"order_status": to,
		"updated_at":   at,
	}
	if to == enums.OrderStatusDelivered {
		updates["delivered_at"] = at
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND order_status = ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) List(ctx context.Context, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.CustomerID != nil {
		query = query.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.VendorID != nil {
		query = query.Where("id IN (?)", r.db.Model(&models.OrderItem{}).Select("order_id").Where("vendor_id = ?", *filter.VendorID))
	}
	if filter.PaymentStatus != nil {
		query = query.Where("payment_status = ?", *filter.PaymentStatus)
	}
	if filter.OrderStatus != nil {
		query = query.Where("order_status = ?", *filter.OrderStatus)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var orders []models.Order
	if err := query.
		Preload("Items").
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// ListUnpaidBefore returns pending or failed orders created before the cutoff,
// oldest first.
func (r *repository) ListUnpaidBefore(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("payment_status IN ? AND order_status = ? AND created_at < ?", unsettledStatuses, enums.OrderStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
