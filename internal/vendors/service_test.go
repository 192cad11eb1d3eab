package vendors

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/internal/dbtest"
	"github.com/angelmondragon/bazaar-backend/internal/ledger"
	"github.com/angelmondragon/bazaar-backend/pkg/db"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/types"
)

func newTestService(t *testing.T) (*Service, *db.Client) {
	t.Helper()
	client := dbtest.Open(t)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()))
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repo:           NewRepository(client.DB()),
		Ledger:         ledgerSvc,
		TxRunner:       client,
		CommissionRate: decimal.RequireFromString("0.10"),
	})
	require.NoError(t, err)
	return svc, client
}

func TestDefaultStoreName(t *testing.T) {
	owner := uuid.MustParse("0b7c1f9e-1111-4222-8333-944455556666")
	assert.Equal(t, "Store 0B7C1F9E", DefaultStoreName(owner))
}

func TestEnsureProfileIsIdempotent(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	owner := uuid.New()

	first, err := svc.EnsureProfile(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, DefaultStoreName(owner), first.StoreName)
	assert.False(t, first.IsApproved)
	assert.True(t, first.Balance.IsZero())

	second, err := svc.EnsureProfile(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.StoreName, second.StoreName)

	var count int64
	require.NoError(t, client.DB().Model(&models.Vendor{}).Where("owner_id = ?", owner).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestImplicitProvisioningAgreesAcrossPaths(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()

	viaAccess, _ := newTestService(t)
	fromMiddleware, err := viaAccess.EnsureProfile(ctx, owner)
	require.NoError(t, err)

	viaRevenue, client := newTestService(t)
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := viaRevenue.Credit(ctx, tx, CreditInput{OwnerID: owner, OrderID: uuid.New(), Gross: decimal.NewFromInt(5000), OrdersDelta: 1})
		return err
	}))
	fromSettlement, err := viaRevenue.EnsureProfile(ctx, owner)
	require.NoError(t, err)

	assert.Equal(t, fromMiddleware.StoreName, fromSettlement.StoreName)
	assert.Equal(t, fromMiddleware.IsApproved, fromSettlement.IsApproved)
	assert.False(t, fromSettlement.IsApproved)
}

func TestInsertIfAbsentKeepsExistingRow(t *testing.T) {
	_, client := newTestService(t)
	repo := NewRepository(client.DB())
	owner := uuid.New()
	ctx := context.Background()

	require.NoError(t, repo.InsertIfAbsent(ctx, &models.Vendor{OwnerID: owner, StoreName: "first"}))
	require.NoError(t, repo.InsertIfAbsent(ctx, &models.Vendor{OwnerID: owner, StoreName: "second"}))

	v, err := repo.FindByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "first", v.StoreName)
}

func TestCreditProvisionsAndAppliesCommission(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	owner := uuid.New()
	orderID := uuid.New()

	var net decimal.Decimal
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		net, err = svc.Credit(ctx, tx, CreditInput{OwnerID: owner, OrderID: orderID, Gross: decimal.NewFromInt(3000), OrdersDelta: 1})
		return err
	})
	require.NoError(t, err)
	assert.True(t, net.Equal(decimal.NewFromInt(2700)), "net %s", net)

	vendor := dbtest.ReloadVendor(t, client.DB(), owner)
	assert.True(t, vendor.Balance.Equal(decimal.NewFromInt(2700)))
	assert.True(t, vendor.TotalSales.Equal(decimal.NewFromInt(3000)))
	assert.Equal(t, 1, vendor.TotalOrders)

	var events []models.LedgerEvent
	require.NoError(t, client.DB().Where("vendor_id = ?", owner).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.LedgerEventSettlementCredit, events[0].Type)
}

func TestDebitRejectsOverdraw(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	owner := uuid.New()
	dbtest.SeedVendor(t, client.DB(), owner, 500)

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Debit(ctx, tx, DebitInput{OwnerID: owner, OrderID: uuid.New(), Net: decimal.NewFromInt(900), OrdersDelta: 1})
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	assert.True(t, dbtest.ReloadVendor(t, client.DB(), owner).Balance.Equal(decimal.NewFromInt(500)))
}

func TestReserveAndRelease(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	owner := uuid.New()
	payoutID := uuid.New()
	dbtest.SeedVendor(t, client.DB(), owner, 3000)

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Reserve(ctx, tx, owner, payoutID, decimal.NewFromInt(5000))
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.True(t, dbtest.ReloadVendor(t, client.DB(), owner).Balance.Equal(decimal.NewFromInt(3000)))

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Reserve(ctx, tx, owner, payoutID, decimal.NewFromInt(1200))
	}))
	assert.True(t, dbtest.ReloadVendor(t, client.DB(), owner).Balance.Equal(decimal.NewFromInt(1800)))

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Release(ctx, tx, owner, payoutID, decimal.NewFromInt(1200))
	}))
	vendor := dbtest.ReloadVendor(t, client.DB(), owner)
	assert.True(t, vendor.Balance.Equal(decimal.NewFromInt(3000)))
	assert.True(t, vendor.TotalSales.IsZero(), "releases do not count as sales")
}

func TestCreateProfileClaimsImplicitProfile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := uuid.New()

	implicit, err := svc.EnsureProfile(ctx, owner)
	require.NoError(t, err)

	claimed, err := svc.CreateProfile(ctx, owner, CreateProfileInput{
		StoreName:   "Lagos Threads",
		BankDetails: &types.BankDetails{AccountName: "Lagos Threads", AccountNumber: "0123456789", BankName: "GTBank"},
	})
	require.NoError(t, err)
	assert.Equal(t, implicit.ID, claimed.ID)
	assert.Equal(t, "Lagos Threads", claimed.StoreName)
	require.NotNil(t, claimed.BankDetails)
	assert.Equal(t, "0123456789", claimed.BankDetails.AccountNumber)

	_, err = svc.GetByOwner(ctx, uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}
