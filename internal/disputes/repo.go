package disputes

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	"github.com/angelmondragon/bazaar-backend/pkg/pagination"
)

var terminalStatuses = []enums.DisputeStatus{enums.DisputeStatusResolved, enums.DisputeStatusCancelled}

// Repository persists disputes and their responses.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, dispute *models.Dispute) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error)
	AddResponse(ctx context.Context, response *models.DisputeResponse) error
	SetStatus(ctx context.Context, id uuid.UUID, status enums.DisputeStatus) (int64, error)
	Cancel(ctx context.Context, id uuid.UUID) (int64, error)
	Resolve(ctx context.Context, id uuid.UUID, decision models.AdminDecision) (int64, error)
	List(ctx context.Context, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.Dispute, error)
}

// ListFilter scopes a listing. Nil fields are not applied.
type ListFilter struct {
	CustomerID *uuid.UUID
	VendorID   *uuid.UUID
	Status     *enums.DisputeStatus
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

func (r *repository) Create(ctx context.Context, dispute *models.Dispute) error {
	return r.db.WithContext(ctx).Create(dispute).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	return r.findOne(ctx, "order_id = ?", orderID)
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).
		Preload("Responses", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where(query, arg).
		First(&dispute).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) AddResponse(ctx context.Context, response *models.DisputeResponse) error {
	return r.db.WithContext(ctx).Create(response).Error
}

// SetStatus moves a non-terminal dispute to status.
func (r *repository) SetStatus(ctx context.Context, id uuid.UUID, status enums.DisputeStatus) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

func (r *repository) Cancel(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status = ?", id, enums.DisputeStatusOpen).
		Updates(map[string]any{"status": enums.DisputeStatusCancelled, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

// Resolve records the admin decision once; a terminal dispute is left alone.
func (r *repository) Resolve(ctx context.Context, id uuid.UUID, decision models.AdminDecision) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(map[string]any{
			"status":                 enums.DisputeStatusResolved,
			"decision_action":        decision.Action,
			"decision_note":          decision.Note,
			"decision_refund_amount": decision.RefundAmount,
			"decision_decided_by":    decision.DecidedBy,
			"decision_decided_at":    decision.DecidedAt,
			"updated_at":             time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *repository) List(ctx context.Context, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.Dispute, error) {
	query := r.db.WithContext(ctx).Model(&models.Dispute{})
	if filter.CustomerID != nil {
		query = query.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.VendorID != nil {
		query = query.Where("vendor_id = ?", *filter.VendorID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Dispute
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
