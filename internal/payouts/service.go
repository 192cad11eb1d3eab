// Package payouts manages vendor withdrawals. The requested amount is
// reserved from the vendor balance when the request is created and released
// again if the payout fails.
package payouts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/internal/orders"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/logger"
	"github.com/angelmondragon/bazaar-backend/pkg/metrics"
	"github.com/angelmondragon/bazaar-backend/pkg/outbox"
	"github.com/angelmondragon/bazaar-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/bazaar-backend/pkg/pagination"
	"github.com/angelmondragon/bazaar-backend/pkg/types"
)

type vendorBalance interface {
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Vendor, error)
	Reserve(ctx context.Context, tx *gorm.DB, ownerID, payoutID uuid.UUID, amount decimal.Decimal) error
	Release(ctx context.Context, tx *gorm.DB, ownerID, payoutID uuid.UUID, amount decimal.Decimal) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type RequestInput struct {
	Amount      decimal.Decimal    `json:"amount"`
	BankDetails *types.BankDetails `json:"bankDetails,omitempty"`
}

type ProcessInput struct {
	Status    enums.PayoutStatus `json:"status" validate:"required"`
	Reference *string            `json:"reference,omitempty" validate:"omitempty,max=128"`
	Error     *string            `json:"error,omitempty" validate:"omitempty,max=1000"`
}

type ListParams struct {
	pagination.Params
	Status *enums.PayoutStatus
}

type ListResult struct {
	Items  []models.Payout `json:"items"`
	Cursor string          `json:"cursor"`
}

type ServiceParams struct {
	Repo     Repository
	Vendors  vendorBalance
	Outbox   outbox.Emitter
	Metrics  *metrics.SettlementMetrics
	TxRunner txRunner
	Logger   *logger.Logger
	Now      func() time.Time
}

type Service struct {
	repo    Repository
	vendors vendorBalance
	outbox  outbox.Emitter
	metrics *metrics.SettlementMetrics
	tx      txRunner
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("payouts repository required")
	case params.Vendors == nil:
		return nil, fmt.Errorf("vendor service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.TxRunner == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:    params.Repo,
		vendors: params.Vendors,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		tx:      params.TxRunner,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// Request reserves amount from the vendor balance and records a pending
// payout. A request above the balance is rejected and changes nothing.
func (s *Service) Request(ctx context.Context, vendorID uuid.UUID, input RequestInput) (*models.Payout, error) {
	amount := input.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout amount must be positive")
	}
	vendor, err := s.vendors.GetByOwner(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	bank := input.BankDetails
	if bank.IsZero() {
		bank = vendor.BankDetails
	}
	if bank.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bank details required")
	}
	ctx = s.logg.WithVendorID(ctx, vendorID.String())

	payout := &models.Payout{
		ID:          uuid.New(),
		VendorID:    vendorID,
		Amount:      amount,
		Status:      enums.PayoutStatusPending,
		BankDetails: *bank,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.vendors.Reserve(ctx, tx, vendorID, payout.ID, amount); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).Create(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutRequested,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Actor:         &outbox.ActorRef{UserID: vendorID, Role: string(enums.ActorRoleVendor)},
			Data: payloads.PayoutRequestedEvent{
				PayoutID: payout.ID,
				VendorID: vendorID,
				Amount:   amount,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncPayout(string(enums.PayoutStatusPending))
	s.logg.Info(s.logg.WithField(ctx, "amount", amount.StringFixed(2)), "payout.requested")
	return payout, nil
}

// Process records the admin outcome of a pending payout exactly once. A
// failed payout releases its reservation back to the vendor.
func (s *Service) Process(ctx context.Context, adminID, id uuid.UUID, input ProcessInput) (*models.Payout, error) {
	if input.Status != enums.PayoutStatusProcessed && input.Status != enums.PayoutStatusFailed {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be processed or failed")
	}
	if input.Status == enums.PayoutStatusFailed && (input.Error == nil || strings.TrimSpace(*input.Error) == "") {
		reason := "payout failed"
		input.Error = &reason
	}

	var payout *models.Payout
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
		}
		if current == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		rows, err := repo.Complete(ctx, id, Completion{
			Status:      input.Status,
			Reference:   input.Reference,
			Error:       input.Error,
			ProcessedBy: adminID,
			ProcessedAt: s.now(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payout has already been processed").
				WithDetails(map[string]any{"status": current.Status})
		}
		if input.Status == enums.PayoutStatusFailed {
			if err := s.vendors.Release(ctx, tx, current.VendorID, current.ID, current.Amount); err != nil {
				return err
			}
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutProcessed,
			AggregateType: enums.AggregatePayout,
			AggregateID:   current.ID,
			Actor:         &outbox.ActorRef{UserID: adminID, Role: string(enums.ActorRoleAdmin)},
			Data: payloads.PayoutProcessedEvent{
				PayoutID:  current.ID,
				VendorID:  current.VendorID,
				Amount:    current.Amount,
				Status:    string(input.Status),
				Reference: input.Reference,
				Error:     input.Error,
			},
		}); err != nil {
			return err
		}
		payout, err = repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payout")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncPayout(string(input.Status))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"payout_id": id.String(),
		"status":    string(input.Status),
	}), "payout.processed")
	return payout, nil
}

// Get returns a payout to its vendor or an admin.
func (s *Service) Get(ctx context.Context, actor orders.Actor, id uuid.UUID) (*models.Payout, error) {
	payout, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
	}
	if payout == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
	}
	if actor.Role != enums.ActorRoleAdmin && payout.VendorID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payout not accessible")
	}
	return payout, nil
}

// List shows vendors their own payouts and admins every payout.
func (s *Service) List(ctx context.Context, actor orders.Actor, params ListParams) (*ListResult, error) {
	filter := ListFilter{Status: params.Status}
	if actor.Role != enums.ActorRoleAdmin {
		filter.VendorID = &actor.UserID
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filter, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payouts")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(r models.Payout) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	return &ListResult{Items: rows, Cursor: next}, nil
}
