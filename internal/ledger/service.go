package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/pagination"
)

// Service records the append-only journal behind every vendor balance change.
type Service interface {
	RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	RefundedNet(ctx context.Context, tx *gorm.DB, orderID, vendorID uuid.UUID) (decimal.Decimal, error)
	ListForVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (*ListResult, error)
}

type service struct {
	repo Repository
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
// Amount is signed from the vendor's point of view.
type RecordLedgerEventInput struct {
	VendorID  uuid.UUID             `json:"vendor_id"`
	OrderID   *uuid.UUID            `json:"order_id,omitempty"`
	PayoutID  *uuid.UUID            `json:"payout_id,omitempty"`
	DisputeID *uuid.UUID            `json:"dispute_id,omitempty"`
	Type      enums.LedgerEventType `json:"type"`
	Gross     decimal.Decimal       `json:"gross"`
	Amount    decimal.Decimal       `json:"amount"`
	Metadata  json.RawMessage       `json:"metadata,omitempty"`
}

// ListResult wraps a page of ledger events and the cursor for the next page.
type ListResult struct {
	Items  []models.LedgerEvent `json:"items"`
	Cursor string               `json:"cursor"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if input.VendorID == uuid.Nil {
		return nil, fmt.Errorf("vendor id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	switch input.Type {
	case enums.LedgerEventSettlementCredit, enums.LedgerEventRefundDebit:
		if input.OrderID == nil {
			return nil, fmt.Errorf("order id is required for %s", input.Type)
		}
	case enums.LedgerEventPayoutReserve, enums.LedgerEventPayoutRelease:
		if input.PayoutID == nil {
			return nil, fmt.Errorf("payout id is required for %s", input.Type)
		}
	}

	event := &models.LedgerEvent{
		VendorID:  input.VendorID,
		OrderID:   input.OrderID,
		PayoutID:  input.PayoutID,
		DisputeID: input.DisputeID,
		Type:      input.Type,
		Gross:     input.Gross,
		Amount:    input.Amount,
		Metadata:  input.Metadata,
	}

	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// RefundedNet is the positive total already debited from vendorID for orderID.
func (s *service) RefundedNet(ctx context.Context, tx *gorm.DB, orderID, vendorID uuid.UUID) (decimal.Decimal, error) {
	sum, err := s.repo.WithTx(tx).SumAmount(ctx, orderID, vendorID, enums.LedgerEventRefundDebit)
	if err != nil {
		return decimal.Zero, err
	}
	return sum.Neg(), nil
}

func (s *service) ListForVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (*ListResult, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListByVendor(ctx, vendorID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger events")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(r models.LedgerEvent) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	return &ListResult{Items: rows, Cursor: next}, nil
}
