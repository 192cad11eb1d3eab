package disputes

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bazaar-backend/internal/dbtest"
	"github.com/angelmondragon/bazaar-backend/internal/gateway"
	"github.com/angelmondragon/bazaar-backend/internal/ledger"
	"github.com/angelmondragon/bazaar-backend/internal/orders"
	"github.com/angelmondragon/bazaar-backend/internal/products"
	"github.com/angelmondragon/bazaar-backend/internal/refunds"
	"github.com/angelmondragon/bazaar-backend/internal/vendors"
	"github.com/angelmondragon/bazaar-backend/pkg/db"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/outbox"
)

type fakeAdapter struct {
	refunds int
	err     error
}

func (f *fakeAdapter) Provider() enums.PaymentProvider { return enums.PaymentProviderPaystack }

func (f *fakeAdapter) Initialize(context.Context, gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeAdapter) Verify(context.Context, string) (*gateway.VerifyResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeAdapter) Refund(context.Context, string, *decimal.Decimal) (*gateway.RefundResult, error) {
	f.refunds++
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.RefundResult{Reference: "RF-1", Status: "processed"}, nil
}

type fixture struct {
	client   *db.Client
	svc      *Service
	adapter  *fakeAdapter
	customer uuid.UUID
	vendorA  uuid.UUID
	vendorB  uuid.UUID
	order    *models.Order
}

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
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), logg)
	orderRepo := orders.NewRepository(client.DB())

	refundSvc, err := refunds.NewService(refunds.ServiceParams{
		Repo:     refunds.NewRepository(client.DB()),
		Orders:   orderRepo,
		Products: products.NewRepository(client.DB()),
		Vendors:  vendorSvc,
		Ledger:   ledgerSvc,
		Gateways: registry,
		Outbox:   emitter,
		TxRunner: client,
		Logger:   logg,
	})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(client.DB()),
		Orders:   orderRepo,
		Refunds:  refundSvc,
		Outbox:   emitter,
		TxRunner: client,
		Logger:   logg,
	})
	require.NoError(t, err)

	f := &fixture{client: client, svc: svc, adapter: adapter, customer: uuid.New(), vendorA: uuid.New(), vendorB: uuid.New()}
	dbtest.SeedVendor(t, client.DB(), f.vendorA, 10000)
	dbtest.SeedVendor(t, client.DB(), f.vendorB, 10000)
	prodA := dbtest.SeedProduct(t, client.DB(), f.vendorA, "Tote", 3000, 5)
	prodB := dbtest.SeedProduct(t, client.DB(), f.vendorB, "Beads", 2000, 5)
	f.order = dbtest.SeedOrder(t, client.DB(), f.customer, enums.PaymentStatusPaid,
		dbtest.Line{Product: prodA, Quantity: 1},
		dbtest.Line{Product: prodB, Quantity: 1},
	)
	return f
}

func (f *fixture) open(t *testing.T) *models.Dispute {
	t.Helper()
	dispute, err := f.svc.Open(context.Background(), f.customer, OpenInput{
		OrderID:     f.order.ID,
		VendorID:    &f.vendorA,
		Reason:      enums.DisputeReasonDamaged,
		Description: "the tote arrived torn",
	})
	require.NoError(t, err)
	return dispute
}

func (f *fixture) actor(id uuid.UUID, role enums.ActorRole) orders.Actor {
	return orders.Actor{UserID: id, Role: role}
}

func TestOpenEnforcesOwnershipAndUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := OpenInput{OrderID: f.order.ID, VendorID: &f.vendorA, Reason: enums.DisputeReasonDamaged, Description: "torn"}

	_, err := f.svc.Open(ctx, uuid.New(), input)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	_, err = f.svc.Open(ctx, f.customer, OpenInput{OrderID: f.order.ID, Reason: enums.DisputeReasonDamaged, Description: "torn"})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err), "multi-vendor order needs a vendor")

	dispute := f.open(t)
	assert.Equal(t, enums.DisputeStatusOpen, dispute.Status)
	assert.Equal(t, f.vendorA, dispute.VendorID)

	_, err = f.svc.Open(ctx, f.customer, input)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
}

func TestOpenRejectsUnpaidOrder(t *testing.T) {
	f := newFixture(t)
	product := dbtest.SeedProduct(t, f.client.DB(), f.vendorA, "Mat", 500, 2)
	pending := dbtest.SeedOrder(t, f.client.DB(), f.customer, enums.PaymentStatusPending, dbtest.Line{Product: product, Quantity: 1})

	_, err := f.svc.Open(context.Background(), f.customer, OpenInput{OrderID: pending.ID, Reason: enums.DisputeReasonOther, Description: "?"})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}

func TestRespondTransitionsByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dispute := f.open(t)

	updated, err := f.svc.Respond(ctx, f.actor(f.customer, enums.ActorRoleCustomer), dispute.ID, RespondInput{Message: "photos attached"})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusOpen, updated.Status)

	updated, err = f.svc.Respond(ctx, f.actor(f.vendorA, enums.ActorRoleVendor), dispute.ID, RespondInput{Message: "we will check"})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusVendorResponded, updated.Status)

	updated, err = f.svc.Respond(ctx, f.actor(uuid.New(), enums.ActorRoleAdmin), dispute.ID, RespondInput{Message: "send the receipt", RequestCustomerAction: true})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusCustomerActionRequired, updated.Status)

	updated, err = f.svc.Respond(ctx, f.actor(uuid.New(), enums.ActorRoleAdmin), dispute.ID, RespondInput{Message: "reviewing"})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusUnderReview, updated.Status)
	assert.Len(t, updated.Responses, 4)

	_, err = f.svc.Respond(ctx, f.actor(f.customer, enums.ActorRoleCustomer), dispute.ID, RespondInput{Message: "x", RequestCustomerAction: true})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
}

func TestOnlyPartiesMayReadOrRespond(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dispute := f.open(t)

	_, err := f.svc.Get(ctx, f.actor(uuid.New(), enums.ActorRoleCustomer), dispute.ID)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	_, err = f.svc.Respond(ctx, f.actor(f.vendorB, enums.ActorRoleVendor), dispute.ID, RespondInput{Message: "not mine"})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	got, err := f.svc.Get(ctx, f.actor(f.vendorA, enums.ActorRoleVendor), dispute.ID)
	require.NoError(t, err)
	assert.Equal(t, dispute.ID, got.ID)
}

func TestResolveDenyClaimMovesNoMoney(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dispute := f.open(t)
	admin := uuid.New()

	resolved, err := f.svc.Resolve(ctx, admin, dispute.ID, ResolveInput{Action: enums.DisputeActionDenyClaim})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusResolved, resolved.Status)
	assert.Equal(t, enums.DisputeActionDenyClaim, resolved.Decision.Action)
	require.NotNil(t, resolved.Decision.DecidedBy)
	assert.Equal(t, admin, *resolved.Decision.DecidedBy)

	assert.Zero(t, f.adapter.refunds)
	order, err := orders.NewRepository(f.client.DB()).FindByID(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, order.PaymentStatus)
	assert.True(t, order.RefundedAmount.IsZero())
	assert.True(t, dbtest.ReloadVendor(t, f.client.DB(), f.vendorA).Balance.Equal(decimal.NewFromInt(10000)))

	_, err = f.svc.Resolve(ctx, admin, dispute.ID, ResolveInput{Action: enums.DisputeActionFullRefund})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	assert.Zero(t, f.adapter.refunds)
}

func TestResolvePartialRefundDebitsDisputedVendor(t *testing.T) {
	f := newFixture(t)
	dispute := f.open(t)
	amount := decimal.NewFromInt(1000)

	resolved, err := f.svc.Resolve(context.Background(), uuid.New(), dispute.ID, ResolveInput{
		Action:       enums.DisputeActionPartialRefund,
		RefundAmount: &amount,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusResolved, resolved.Status)
	require.NotNil(t, resolved.Decision.RefundAmount)
	assert.True(t, resolved.Decision.RefundAmount.Equal(amount))

	order, err := orders.NewRepository(f.client.DB()).FindByID(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPartiallyRefunded, order.PaymentStatus)
	assert.True(t, dbtest.ReloadVendor(t, f.client.DB(), f.vendorA).Balance.Equal(decimal.NewFromInt(9100)))
	assert.True(t, dbtest.ReloadVendor(t, f.client.DB(), f.vendorB).Balance.Equal(decimal.NewFromInt(10000)))
}

func TestResolveFullRefundRecordsAmount(t *testing.T) {
	f := newFixture(t)
	dispute := f.open(t)

	resolved, err := f.svc.Resolve(context.Background(), uuid.New(), dispute.ID, ResolveInput{Action: enums.DisputeActionFullRefund})
	require.NoError(t, err)
	require.NotNil(t, resolved.Decision.RefundAmount)
	assert.True(t, resolved.Decision.RefundAmount.Equal(decimal.NewFromInt(5000)))
}

func TestResolveAbortsWhenRefundFails(t *testing.T) {
	f := newFixture(t)
	f.adapter.err = pkgerrors.New(pkgerrors.CodeGateway, "declined")
	dispute := f.open(t)

	_, err := f.svc.Resolve(context.Background(), uuid.New(), dispute.ID, ResolveInput{Action: enums.DisputeActionFullRefund})
	assert.Equal(t, pkgerrors.CodeGateway, pkgerrors.CodeOf(err))

	reloaded, err := f.svc.Get(context.Background(), f.actor(f.customer, enums.ActorRoleCustomer), dispute.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusOpen, reloaded.Status)
	assert.Equal(t, enums.DisputeActionNone, reloaded.Decision.Action)
}

func TestResolvePartialRequiresAmount(t *testing.T) {
	f := newFixture(t)
	dispute := f.open(t)

	_, err := f.svc.Resolve(context.Background(), uuid.New(), dispute.ID, ResolveInput{Action: enums.DisputeActionPartialRefund})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.Zero(t, f.adapter.refunds)
}

func TestCancelOnlyFromOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dispute := f.open(t)

	_, err := f.svc.Cancel(ctx, uuid.New(), dispute.ID)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	_, err = f.svc.Respond(ctx, f.actor(f.vendorA, enums.ActorRoleVendor), dispute.ID, RespondInput{Message: "hi"})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.customer, dispute.ID)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}

func TestListScopesByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t)

	mine, err := f.svc.List(ctx, f.actor(f.vendorA, enums.ActorRoleVendor), ListParams{})
	require.NoError(t, err)
	assert.Len(t, mine.Items, 1)

	other, err := f.svc.List(ctx, f.actor(f.vendorB, enums.ActorRoleVendor), ListParams{})
	require.NoError(t, err)
	assert.Empty(t, other.Items)

	all, err := f.svc.List(ctx, f.actor(uuid.New(), enums.ActorRoleAdmin), ListParams{})
	require.NoError(t, err)
	assert.Len(t, all.Items, 1)
}
