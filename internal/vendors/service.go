package vendors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/internal/ledger"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns vendor profiles and is the only writer of vendor balances.
// Each balance movement is journaled through the ledger in the caller's tx.
type Service struct {
	repo       Repository
	ledger     ledger.Service
	tx         txRunner
	commission decimal.Decimal
}

type ServiceParams struct {
	Repo           Repository
	Ledger         ledger.Service
	TxRunner       txRunner
	CommissionRate decimal.Decimal
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "vendor repo required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.CommissionRate.IsNegative() || params.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "commission rate must be within [0, 1)")
	}
	return &Service{
		repo:       params.Repo,
		ledger:     params.Ledger,
		tx:         params.TxRunner,
		commission: params.CommissionRate,
	}, nil
}

// CommissionRate is the platform share withheld from vendor credits.
func (s *Service) CommissionRate() decimal.Decimal {
	return s.commission
}

// NetOf applies the commission to a gross amount.
func (s *Service) NetOf(gross decimal.Decimal) decimal.Decimal {
	return gross.Mul(decimal.NewFromInt(1).Sub(s.commission)).Round(2)
}

// DefaultStoreName is the store name of an implicitly provisioned profile. It
// depends on the owner id only, so settlement and the vendor middleware create
// identical profiles whichever runs first.
func DefaultStoreName(ownerID uuid.UUID) string {
	return "Store " + strings.ToUpper(ownerID.String()[:8])
}

// EnsureProfile returns the owner's vendor profile, creating an unapproved one
// with the default store name when absent.
func (s *Service) EnsureProfile(ctx context.Context, ownerID uuid.UUID) (*models.Vendor, error) {
	var vendor *models.Vendor
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		vendor, err = s.EnsureProfileTx(ctx, tx, ownerID)
		return err
	})
	return vendor, err
}

// EnsureProfileTx is EnsureProfile inside an existing transaction.
func (s *Service) EnsureProfileTx(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) (*models.Vendor, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor owner id required")
	}
	repo := s.repo.WithTx(tx)
	existing, err := repo.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendor")
	}
	if existing != nil {
		return existing, nil
	}

	if err := repo.InsertIfAbsent(ctx, &models.Vendor{
		OwnerID:   ownerID,
		StoreName: DefaultStoreName(ownerID),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "provision vendor")
	}

	created, err := repo.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload vendor")
	}
	if created == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "vendor not persisted")
	}
	return created, nil
}

// CreateProfileInput is the explicit vendor onboarding payload.
type CreateProfileInput struct {
	StoreName   string
	BankDetails *types.BankDetails
}

// CreateProfile registers a vendor explicitly. A profile provisioned
// implicitly earlier is claimed: its store name and bank details are set.
func (s *Service) CreateProfile(ctx context.Context, ownerID uuid.UUID, input CreateProfileInput) (*models.Vendor, error) {
	storeName := strings.TrimSpace(input.StoreName)
	if storeName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store name is required")
	}

	var vendor *models.Vendor
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		v, err := s.EnsureProfileTx(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Model(&models.Vendor{}).
			Where("id = ?", v.ID).
			Update("store_name", storeName).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update store name")
		}
		if !input.BankDetails.IsZero() {
			if _, err := s.repo.WithTx(tx).UpdateBankDetails(ctx, ownerID, input.BankDetails); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update bank details")
			}
		}
		vendor, err = s.repo.WithTx(tx).FindByOwner(ctx, ownerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload vendor")
		}
		return nil
	})
	return vendor, err
}

// GetByOwner returns NOT_FOUND when the owner has no profile.
func (s *Service) GetByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Vendor, error) {
	vendor, err := s.repo.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendor")
	}
	if vendor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "vendor profile not found")
	}
	return vendor, nil
}

// CreditInput is one vendor's share of a settled order.
type CreditInput struct {
	OwnerID     uuid.UUID
	OrderID     uuid.UUID
	Gross       decimal.Decimal
	OrdersDelta int
}

// Credit adds gross minus commission to the balance, gross to total sales and
// OrdersDelta to total orders, provisioning the profile when absent.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, input CreditInput) (decimal.Decimal, error) {
	if !input.Gross.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	if _, err := s.EnsureProfileTx(ctx, tx, input.OwnerID); err != nil {
		return decimal.Zero, err
	}

	net := s.NetOf(input.Gross)
	rows, err := s.repo.WithTx(tx).Credit(ctx, input.OwnerID, net, input.Gross, input.OrdersDelta)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit vendor")
	}
	if rows == 0 {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeConflict, "vendor credit not applied")
	}

	orderID := input.OrderID
	if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
		VendorID: input.OwnerID,
		OrderID:  &orderID,
		Type:     enums.LedgerEventSettlementCredit,
		Gross:    input.Gross,
		Amount:   net,
		Metadata: s.commissionMetadata(),
	}); err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "record settlement credit")
	}
	return net, nil
}

// DebitInput reverses part of a vendor's settled revenue.
type DebitInput struct {
	OwnerID     uuid.UUID
	OrderID     uuid.UUID
	DisputeID   *uuid.UUID
	Gross       decimal.Decimal
	Net         decimal.Decimal
	OrdersDelta int
}

// Debit subtracts Net from the balance and OrdersDelta from total orders. It
// fails with CONFLICT, applying nothing, when the balance does not cover Net.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, input DebitInput) error {
	if input.Net.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "debit amount must not be negative")
	}
	rows, err := s.repo.WithTx(tx).Debit(ctx, input.OwnerID, input.Net, input.OrdersDelta)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit vendor")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "vendor balance insufficient for refund").
			WithDetails(map[string]any{"vendor_id": input.OwnerID, "amount": input.Net})
	}
	if input.Net.IsZero() {
		return nil
	}

	orderID := input.OrderID
	if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
		VendorID:  input.OwnerID,
		OrderID:   &orderID,
		DisputeID: input.DisputeID,
		Type:      enums.LedgerEventRefundDebit,
		Gross:     input.Gross,
		Amount:    input.Net.Neg(),
		Metadata:  s.commissionMetadata(),
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund debit")
	}
	return nil
}

// Reserve deducts a payout amount up front. Insufficient balance is a
// validation failure and leaves the balance untouched.
func (s *Service) Reserve(ctx context.Context, tx *gorm.DB, ownerID, payoutID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "payout amount must be positive")
	}
	rows, err := s.repo.WithTx(tx).Debit(ctx, ownerID, amount, 0)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve payout")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "insufficient balance")
	}
	if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
		VendorID: ownerID,
		PayoutID: &payoutID,
		Type:     enums.LedgerEventPayoutReserve,
		Gross:    amount,
		Amount:   amount.Neg(),
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payout reserve")
	}
	return nil
}

// Release credits a failed payout's reservation back to the balance.
func (s *Service) Release(ctx context.Context, tx *gorm.DB, ownerID, payoutID uuid.UUID, amount decimal.Decimal) error {
	rows, err := s.repo.WithTx(tx).Credit(ctx, ownerID, amount, decimal.Zero, 0)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release payout")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "vendor profile not found")
	}
	if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
		VendorID: ownerID,
		PayoutID: &payoutID,
		Type:     enums.LedgerEventPayoutRelease,
		Gross:    amount,
		Amount:   amount,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payout release")
	}
	return nil
}

func (s *Service) commissionMetadata() json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"commission_rate":%q}`, s.commission.String()))
}
