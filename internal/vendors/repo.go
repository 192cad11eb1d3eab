package vendors

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/types"
)

// Repository persists vendor profiles and their ledger aggregates. Every
// balance mutation is a single conditional UPDATE so concurrent writers never
// lose increments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Vendor, error)
	InsertIfAbsent(ctx context.Context, vendor *models.Vendor) error
	UpdateBankDetails(ctx context.Context, ownerID uuid.UUID, details *types.BankDetails) (int64, error)
	Credit(ctx context.Context, ownerID uuid.UUID, net, gross decimal.Decimal, ordersDelta int) (int64, error)
	Debit(ctx context.Context, ownerID uuid.UUID, net decimal.Decimal, ordersDelta int) (int64, error)
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

func (r *repository) FindByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Vendor, error) {
	var vendor models.Vendor
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&vendor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &vendor, nil
}

// InsertIfAbsent relies on ux_vendors_owner_id so two racing creators end up
// with one row.
func (r *repository) InsertIfAbsent(ctx context.Context, vendor *models.Vendor) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner_id"}}, DoNothing: true}).
		Create(vendor).Error
}

func (r *repository) UpdateBankDetails(ctx context.Context, ownerID uuid.UUID, details *types.BankDetails) (int64, error) {
	// map updates bypass field serializers
	encoded, err := json.Marshal(details)
	if err != nil {
		return 0, err
	}
	res := r.db.WithContext(ctx).
		Model(&models.Vendor{}).
		Where("owner_id = ?", ownerID).
		Updates(map[string]any{
			"bank_details": string(encoded),
			"updated_at":   time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *repository) Credit(ctx context.Context, ownerID uuid.UUID, net, gross decimal.Decimal, ordersDelta int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Vendor{}).
		Where("owner_id = ?", ownerID).
		Updates(map[string]any{
			"balance":      gorm.Expr("balance + ?", net),
			"total_sales":  gorm.Expr("total_sales + ?", gross),
			"total_orders": gorm.Expr("total_orders + ?", ordersDelta),
			"updated_at":   time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// Debit applies only when the balance covers net; zero rows affected means the
// vendor is missing or short.
func (r *repository) Debit(ctx context.Context, ownerID uuid.UUID, net decimal.Decimal, ordersDelta int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Vendor{}).
		Where("owner_id = ? AND balance >= ?", ownerID, net).
		Updates(map[string]any{
			"balance":      gorm.Expr("balance - ?", net),
			"total_orders": gorm.Expr("CASE WHEN total_orders + ? < 0 THEN 0 ELSE total_orders + ? END", -ordersDelta, -ordersDelta),
			"updated_at":   time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
