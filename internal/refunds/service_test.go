package refunds

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/internal/dbtest"
	"github.com/angelmondragon/bazaar-backend/internal/gateway"
	"github.com/angelmondragon/bazaar-backend/internal/ledger"
	"github.com/angelmondragon/bazaar-backend/internal/orders"
	"github.com/angelmondragon/bazaar-backend/internal/products"
	"github.com/angelmondragon/bazaar-backend/internal/vendors"
	"github.com/angelmondragon/bazaar-backend/pkg/db"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/lock"
	"github.com/angelmondragon/bazaar-backend/pkg/outbox"
)

type refundCall struct {
	reference string
	amount    *decimal.Decimal
}

type fakeAdapter struct {
	calls []refundCall
	err   error
}

func (f *fakeAdapter) Provider() enums.PaymentProvider { return enums.PaymentProviderPaystack }

func (f *fakeAdapter) Initialize(context.Context, gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeAdapter) Verify(context.Context, string) (*gateway.VerifyResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeAdapter) Refund(_ context.Context, reference string, amount *decimal.Decimal) (*gateway.RefundResult, error) {
	f.calls = append(f.calls, refundCall{reference: reference, amount: amount})
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.RefundResult{Reference: "RF-" + uuid.NewString()[:8], Status: "processed"}, nil
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string) (lock.Lease, error) { return nil, lock.ErrHeld }

type fixture struct {
	client  *db.Client
	svc     *Service
	adapter *fakeAdapter
	vendorA uuid.UUID
	vendorB uuid.UUID
	prodA   *models.Product
	prodB   *models.Product
	order   *models.Order
}

// newFixture seeds a paid two-vendor order: vendor A 3,000, vendor B 2,000.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := dbtest.Logger()
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()))
	require.NoError(t, err)
	vendorSvc, err := vendors.NewService(vendors.ServiceParams{
		Repo:           vendors.NewRepository(client.DB()),
		Ledger:         ledgerSvc,
		TxRunner:       client,
		CommissionRate: decimal.RequireFromString("0.10"),
	})
	require.NoError(t, err)
	adapter := &fakeAdapter{}
	registry, err := gateway.NewRegistry(enums.PaymentProviderPaystack, adapter)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(client.DB()),
		Orders:   orders.NewRepository(client.DB()),
		Products: products.NewRepository(client.DB()),
		Vendors:  vendorSvc,
		Ledger:   ledgerSvc,
		Gateways: registry,
		Outbox:   outbox.NewService(outbox.NewRepository(client.DB()), logg),
		TxRunner: client,
		Logger:   logg,
	})
	require.NoError(t, err)

	f := &fixture{client: client, svc: svc, adapter: adapter, vendorA: uuid.New(), vendorB: uuid.New()}
	dbtest.SeedVendor(t, client.DB(), f.vendorA, 10000)
	dbtest.SeedVendor(t, client.DB(), f.vendorB, 10000)
	f.prodA = dbtest.SeedProduct(t, client.DB(), f.vendorA, "Tote", 3000, 5)
	f.prodB = dbtest.SeedProduct(t, client.DB(), f.vendorB, "Beads", 2000, 5)
	f.order = dbtest.SeedOrder(t, client.DB(), uuid.New(), enums.PaymentStatusPaid,
		dbtest.Line{Product: f.prodA, Quantity: 1},
		dbtest.Line{Product: f.prodB, Quantity: 1},
	)
	return f
}

func (f *fixture) balance(t *testing.T, owner uuid.UUID) decimal.Decimal {
	return dbtest.ReloadVendor(t, f.client.DB(), owner).Balance
}

func TestFullRefundReversesEveryVendorAndRestoresStock(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Refund(context.Background(), Input{OrderID: f.order.ID, Kind: enums.RefundKindFull, InitiatedBy: uuid.New()})
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusRefunded, res.Order.PaymentStatus)
	assert.Equal(t, enums.OrderStatusCancelled, res.Order.OrderStatus)
	assert.True(t, res.Order.RefundedAmount.Equal(decimal.NewFromInt(5000)))
	assert.True(t, f.balance(t, f.vendorA).Equal(decimal.NewFromInt(7300)), "vendor A %s", f.balance(t, f.vendorA))
	assert.True(t, f.balance(t, f.vendorB).Equal(decimal.NewFromInt(8200)), "vendor B %s", f.balance(t, f.vendorB))
	assert.Equal(t, 6, dbtest.ReloadProduct(t, f.client.DB(), f.prodA.ID).Stock)
	assert.Equal(t, 6, dbtest.ReloadProduct(t, f.client.DB(), f.prodB.ID).Stock)

	require.Len(t, f.adapter.calls, 1)
	assert.Nil(t, f.adapter.calls[0].amount, "first full refund defers the amount to the provider")
	assert.Equal(t, *f.order.PaymentReference, f.adapter.calls[0].reference)
	assert.Equal(t, enums.RefundStatusSucceeded, res.Refund.Status)

	_, err = f.svc.Refund(context.Background(), Input{OrderID: f.order.ID, Kind: enums.RefundKindFull})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	assert.Len(t, f.adapter.calls, 1)
	assert.Equal(t, 6, dbtest.ReloadProduct(t, f.client.DB(), f.prodA.ID).Stock)
}

func TestPartialRefundDebitsOnlyAttributedVendor(t *testing.T) {
	f := newFixture(t)
	amount := decimal.NewFromInt(1000)

	res, err := f.svc.Refund(context.Background(), Input{
		OrderID:  f.order.ID,
		Kind:     enums.RefundKindPartial,
		Amount:   &amount,
		VendorID: &f.vendorA,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusPartiallyRefunded, res.Order.PaymentStatus)
	assert.Equal(t, enums.OrderStatusProcessing, res.Order.OrderStatus)
	assert.True(t, res.Order.RefundedAmount.Equal(amount))
	assert.True(t, f.balance(t, f.vendorA).Equal(decimal.NewFromInt(9100)))
	assert.True(t, f.balance(t, f.vendorB).Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 5, dbtest.ReloadProduct(t, f.client.DB(), f.prodA.ID).Stock)
	assert.Equal(t, 5, dbtest.ReloadProduct(t, f.client.DB(), f.prodB.ID).Stock)
	require.NotNil(t, f.adapter.calls[0].amount)
	assert.True(t, f.adapter.calls[0].amount.Equal(amount))
}

func TestPartialRefundOfWholeTotalStaysPartial(t *testing.T) {
	f := newFixture(t)
	amount := f.order.Total

	res, err := f.svc.Refund(context.Background(), Input{
		OrderID:  f.order.ID,
		Kind:     enums.RefundKindPartial,
		Amount:   &amount,
		VendorID: &f.vendorA,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusPartiallyRefunded, res.Order.PaymentStatus)
	assert.Equal(t, enums.OrderStatusProcessing, res.Order.OrderStatus)
	assert.True(t, res.Order.RefundedAmount.Equal(f.order.Total))
	assert.Nil(t, res.Order.StockRestoredAt)
	assert.Equal(t, 5, dbtest.ReloadProduct(t, f.client.DB(), f.prodA.ID).Stock)
	assert.True(t, f.balance(t, f.vendorA).Equal(decimal.NewFromInt(5500)), "vendor A %s", f.balance(t, f.vendorA))
	assert.True(t, f.balance(t, f.vendorB).Equal(decimal.NewFromInt(10000)))

	more := decimal.NewFromInt(1)
	_, err = f.svc.Refund(context.Background(), Input{OrderID: f.order.ID, Kind: enums.RefundKindPartial, Amount: &more, VendorID: &f.vendorA})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err), "nothing left to refund")
}

func TestFullRefundAfterPartialDebitsRemainingShare(t *testing.T) {
	f := newFixture(t)
	amount := decimal.NewFromInt(1000)
	_, err := f.svc.Refund(context.Background(), Input{OrderID: f.order.ID, Kind: enums.RefundKindPartial, Amount: &amount, VendorID: &f.vendorA})
	require.NoError(t, err)

	res, err := f.svc.Refund(context.Background(), Input{OrderID: f.order.ID, Kind: enums.RefundKindFull})
	require.NoError(t, err)

	assert.True(t, res.Order.RefundedAmount.Equal(f.order.Total))
	require.Len(t, f.adapter.calls, 2)
	require.NotNil(t, f.adapter.calls[1].amount)
	assert.True(t, f.adapter.calls[1].amount.Equal(decimal.NewFromInt(4000)))
	// 2,700 in total for vendor A across both refunds
	assert.True(t, f.balance(t, f.vendorA).Equal(decimal.NewFromInt(7300)), "vendor A %s", f.balance(t, f.vendorA))
	assert.True(t, f.balance(t, f.vendorB).Equal(decimal.NewFromInt(8200)))
}

func TestPartialRefundValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tooMuch := decimal.NewFromInt(5001)
	_, err := f.svc.Refund(ctx, Input{OrderID: f.order.ID, Kind: enums.RefundKindPartial, Amount: &tooMuch, VendorID: &f.vendorA})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	zero := decimal.Zero
	_, err = f.svc.Refund(ctx, Input{OrderID: f.order.ID, Kind: enums.RefundKindPartial, Amount: &zero, VendorID: &f.vendorA})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	ok := decimal.NewFromInt(100)
	_, err = f.svc.Refund(ctx, Input{OrderID: f.order.ID, Kind: enums.RefundKindPartial, Amount: &ok})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err), "multi-vendor partial refund needs a vendor")

	stranger := uuid.New()
	_, err = f.svc.Refund(ctx, Input{OrderID: f.order.ID, Kind: enums.RefundKindPartial, Amount: &ok, VendorID: &stranger})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.Empty(t, f.adapter.calls)
}

func TestGatewayFailureLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t)
	f.adapter.err = pkgerrors.New(pkgerrors.CodeGateway, "provider rejected refund")

	_, err := f.svc.Refund(context.Background(), Input{OrderID: f.order.ID, Kind: enums.RefundKindFull})
	assert.Equal(t, pkgerrors.CodeGateway, pkgerrors.CodeOf(err))

	order, err := orders.NewRepository(f.client.DB()).FindByID(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, order.PaymentStatus)
	assert.True(t, order.RefundedAmount.IsZero())
	assert.True(t, f.balance(t, f.vendorA).Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 5, dbtest.ReloadProduct(t, f.client.DB(), f.prodA.ID).Stock)

	var count int64
	require.NoError(t, f.client.DB().Model(&models.Refund{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestInsufficientVendorBalanceStopsBeforeGateway(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.DB().Model(&models.Vendor{}).Where("owner_id = ?", f.vendorB).
		Update("balance", decimal.NewFromInt(100)).Error)

	_, err := f.svc.Refund(context.Background(), Input{OrderID: f.order.ID, Kind: enums.RefundKindFull})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.Empty(t, f.adapter.calls)
	assert.True(t, f.balance(t, f.vendorA).Equal(decimal.NewFromInt(10000)))
}

func TestLocalFailureRecordsReconciliation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Refund(context.Background(), Input{
		OrderID: f.order.ID,
		Kind:    enums.RefundKindFull,
		InTx: func(context.Context, *gorm.DB, *models.Refund) error {
			return pkgerrors.New(pkgerrors.CodeConflict, "dispute already resolved")
		},
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, details["provider_reference"])

	rows, err := f.svc.ListForOrder(context.Background(), f.order.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.RefundStatusReconciliationRequired, rows[0].Status)
	require.NotNil(t, rows[0].Error)

	order, err := orders.NewRepository(f.client.DB()).FindByID(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, order.PaymentStatus)
	assert.True(t, f.balance(t, f.vendorA).Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 5, dbtest.ReloadProduct(t, f.client.DB(), f.prodA.ID).Stock)
}

func TestRefundRejectedWhileOrderLocked(t *testing.T) {
	f := newFixture(t)
	f.svc.locker = heldLocker{}

	_, err := f.svc.Refund(context.Background(), Input{OrderID: f.order.ID, Kind: enums.RefundKindFull})
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	assert.Empty(t, f.adapter.calls)
}

func TestRefundRejectsUnpaidOrder(t *testing.T) {
	f := newFixture(t)
	pending := dbtest.SeedOrder(t, f.client.DB(), uuid.New(), enums.PaymentStatusPending, dbtest.Line{Product: f.prodA, Quantity: 1})

	_, err := f.svc.Refund(context.Background(), Input{OrderID: pending.ID, Kind: enums.RefundKindFull})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}
