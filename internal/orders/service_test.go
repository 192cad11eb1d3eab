package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bazaar-backend/internal/dbtest"
	"github.com/angelmondragon/bazaar-backend/internal/gateway"
	"github.com/angelmondragon/bazaar-backend/internal/products"
	"github.com/angelmondragon/bazaar-backend/pkg/config"
	"github.com/angelmondragon/bazaar-backend/pkg/db"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/pagination"
	"github.com/angelmondragon/bazaar-backend/pkg/types"
)

type fakeAdapter struct {
	initErr    error
	verify     *gateway.VerifyResult
	initCalls  []gateway.InitializeRequest
	verifyRefs []string
}

func (f *fakeAdapter) Provider() enums.PaymentProvider { return enums.PaymentProviderPaystack }

func (f *fakeAdapter) Initialize(_ context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	f.initCalls = append(f.initCalls, req)
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &gateway.InitializeResult{Reference: req.Reference, RedirectURL: "https://pay.example/" + req.Reference}, nil
}

func (f *fakeAdapter) Verify(_ context.Context, reference string) (*gateway.VerifyResult, error) {
	f.verifyRefs = append(f.verifyRefs, reference)
	return f.verify, nil
}

func (f *fakeAdapter) Refund(context.Context, string, *decimal.Decimal) (*gateway.RefundResult, error) {
	return nil, errors.New("not used")
}

type fakeFinalizer struct {
	repo  Repository
	calls int
}

func (f *fakeFinalizer) FinalizeOrder(ctx context.Context, orderID uuid.UUID, reference string) (*models.Order, error) {
	f.calls++
	if _, err := f.repo.MarkPaid(ctx, orderID, &reference, time.Now().UTC()); err != nil {
		return nil, err
	}
	return f.repo.FindByID(ctx, orderID)
}

type fixture struct {
	conn      *db.Client
	svc       *Service
	repo      Repository
	adapter   *fakeAdapter
	finalizer *fakeFinalizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn.DB())
	adapter := &fakeAdapter{}
	registry, err := gateway.NewRegistry(enums.PaymentProviderPaystack, adapter)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	finalizer := &fakeFinalizer{repo: repo}
	svc, err := NewService(ServiceParams{
		Repo:      repo,
		Products:  products.NewRepository(conn.DB()),
		Gateways:  registry,
		Finalizer: finalizer,
		TxRunner:  conn,
		Checkout: config.CheckoutConfig{
			ShippingFee: decimal.NewFromInt(1500),
			TaxRate:     decimal.RequireFromString("0.075"),
			Currency:    "NGN",
		},
		Verify: gateway.VerifyPolicy{Timeout: time.Second, Attempts: 1},
		Logger: dbtest.Logger(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{conn: conn, svc: svc, repo: repo, adapter: adapter, finalizer: finalizer}
}

func lagosAddress() types.Address {
	return types.Address{FullName: "Ada Obi", Phone: "0800", Line1: "1 Marina", City: "Lagos", State: "LA"}
}

func TestCheckoutComputesTotalsAndStartsPayment(t *testing.T) {
	f := newFixture(t)
	vendorID := uuid.New()
	product := dbtest.SeedProduct(t, f.conn.DB(), vendorID, "Ankara Tote", 5000, 5)
	customerID := uuid.New()

	result, err := f.svc.Checkout(context.Background(), CheckoutInput{
		CustomerID:      customerID,
		Email:           "ada@example.com",
		Items:           []CheckoutItem{{ProductID: product.ID, Quantity: 1}, {ProductID: product.ID, Quantity: 1}},
		ShippingAddress: lagosAddress(),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	order := result.Order
	if !order.Subtotal.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("subtotal = %s", order.Subtotal)
	}
	if !order.ShippingFee.Equal(decimal.NewFromInt(1500)) || !order.Tax.Equal(decimal.NewFromInt(750)) {
		t.Fatalf("shipping=%s tax=%s", order.ShippingFee, order.Tax)
	}
	if !order.Total.Equal(decimal.NewFromInt(12250)) {
		t.Fatalf("total = %s", order.Total)
	}
	if len(order.Items) != 1 || order.Items[0].Quantity != 2 {
		t.Fatalf("expected merged line, got %+v", order.Items)
	}
	if len(f.adapter.initCalls) != 1 || !f.adapter.initCalls[0].Amount.Equal(order.Total) {
		t.Fatalf("unexpected initialize calls %+v", f.adapter.initCalls)
	}
	if result.RedirectURL == "" || result.Reference == "" {
		t.Fatalf("missing redirect or reference: %+v", result)
	}

	stored, err := f.repo.FindByID(context.Background(), order.ID)
	if err != nil || stored == nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.PaymentStatus != enums.PaymentStatusPending || stored.OrderStatus != enums.OrderStatusPending {
		t.Fatalf("unexpected statuses %s/%s", stored.PaymentStatus, stored.OrderStatus)
	}
	if stored.PaymentReference == nil || *stored.PaymentReference != result.Reference {
		t.Fatalf("reference not stored")
	}
	if got := dbtest.ReloadProduct(t, f.conn.DB(), product.ID).Stock; got != 5 {
		t.Fatalf("checkout must not touch stock, got %d", got)
	}
}

func TestCheckoutWaivesShippingAboveThreshold(t *testing.T) {
	f := newFixture(t)
	f.svc.checkout.FreeShippingThreshold = decimal.NewFromInt(10000)

	shipping, tax, total := f.svc.Totals(decimal.NewFromInt(10000))
	if !shipping.IsZero() || !tax.Equal(decimal.NewFromInt(750)) || !total.Equal(decimal.NewFromInt(10750)) {
		t.Fatalf("shipping=%s tax=%s total=%s", shipping, tax, total)
	}
	shipping, _, _ = f.svc.Totals(decimal.NewFromInt(9999))
	if !shipping.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("expected shipping below threshold, got %s", shipping)
	}
}

func TestCheckoutRejectsInsufficientStock(t *testing.T) {
	f := newFixture(t)
	product := dbtest.SeedProduct(t, f.conn.DB(), uuid.New(), "Beads", 2000, 1)

	_, err := f.svc.Checkout(context.Background(), CheckoutInput{
		CustomerID:      uuid.New(),
		Email:           "ada@example.com",
		Items:           []CheckoutItem{{ProductID: product.ID, Quantity: 2}},
		ShippingAddress: lagosAddress(),
	})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.adapter.initCalls) != 0 {
		t.Fatalf("gateway must not be called")
	}
}

func TestCheckoutDeletesOrderWhenGatewayFails(t *testing.T) {
	f := newFixture(t)
	f.adapter.initErr = pkgerrors.New(pkgerrors.CodeGateway, "provider down")
	product := dbtest.SeedProduct(t, f.conn.DB(), uuid.New(), "Beads", 2000, 3)
	customerID := uuid.New()

	_, err := f.svc.Checkout(context.Background(), CheckoutInput{
		CustomerID:      customerID,
		Email:           "ada@example.com",
		Items:           []CheckoutItem{{ProductID: product.ID, Quantity: 1}},
		ShippingAddress: lagosAddress(),
	})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeGateway {
		t.Fatalf("expected gateway error, got %v", err)
	}

	var count int64
	if err := f.conn.DB().Model(&models.Order{}).Where("customer_id = ?", customerID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected compensating delete, found %d orders", count)
	}
}

func placeOrder(t *testing.T, f *fixture, customerID uuid.UUID) *models.Order {
	t.Helper()
	product := dbtest.SeedProduct(t, f.conn.DB(), uuid.New(), "Tote", 5000, 10)
	result, err := f.svc.Checkout(context.Background(), CheckoutInput{
		CustomerID:      customerID,
		Email:           "ada@example.com",
		Items:           []CheckoutItem{{ProductID: product.ID, Quantity: 2}},
		ShippingAddress: lagosAddress(),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	return result.Order
}

func TestVerifyPaymentFinalizesOnSuccess(t *testing.T) {
	f := newFixture(t)
	customerID := uuid.New()
	order := placeOrder(t, f, customerID)
	f.adapter.verify = &gateway.VerifyResult{Success: true, Status: "success", Amount: order.Total, Currency: "NGN"}

	actor := Actor{UserID: customerID, Role: enums.ActorRoleCustomer}
	paid, err := f.svc.VerifyPayment(context.Background(), actor, order.ID, "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if paid.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", paid.PaymentStatus)
	}
	if len(f.adapter.verifyRefs) != 1 || f.adapter.verifyRefs[0] != *order.PaymentReference {
		t.Fatalf("expected stored reference to be verified, got %v", f.adapter.verifyRefs)
	}

	again, err := f.svc.VerifyPayment(context.Background(), actor, order.ID, "")
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if again.PaymentStatus != enums.PaymentStatusPaid || f.finalizer.calls != 1 {
		t.Fatalf("settled order must short-circuit, finalize calls=%d", f.finalizer.calls)
	}
}

func TestVerifyPaymentRejectsUnderpayment(t *testing.T) {
	f := newFixture(t)
	customerID := uuid.New()
	order := placeOrder(t, f, customerID)
	f.adapter.verify = &gateway.VerifyResult{Success: true, Status: "success", Amount: order.Total.Sub(decimal.NewFromInt(1)), Currency: "NGN"}

	_, err := f.svc.VerifyPayment(context.Background(), Actor{UserID: customerID, Role: enums.ActorRoleCustomer}, order.ID, "")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeGateway {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if f.finalizer.calls != 0 {
		t.Fatalf("finalize must not run")
	}
	stored, _ := f.repo.FindByID(context.Background(), order.ID)
	if stored.PaymentStatus != enums.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", stored.PaymentStatus)
	}
}

func TestVerifyPaymentRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	order := placeOrder(t, f, uuid.New())

	_, err := f.svc.VerifyPayment(context.Background(), Actor{UserID: uuid.New(), Role: enums.ActorRoleCustomer}, order.ID, "")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCancelOnlyRemovesUnpaidOrders(t *testing.T) {
	f := newFixture(t)
	customerID := uuid.New()
	order := placeOrder(t, f, customerID)

	if err := f.svc.Cancel(context.Background(), uuid.New(), order.ID); pkgerrors.CodeOf(err) != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}

	paid := placeOrder(t, f, customerID)
	if _, err := f.repo.MarkPaid(context.Background(), paid.ID, nil, time.Now()); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if err := f.svc.Cancel(context.Background(), customerID, paid.ID); pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}

	if err := f.svc.Cancel(context.Background(), customerID, order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if stored, _ := f.repo.FindByID(context.Background(), order.ID); stored != nil {
		t.Fatalf("expected order to be deleted")
	}
}

func TestUpdateStatusFollowsStateMachine(t *testing.T) {
	f := newFixture(t)
	order := placeOrder(t, f, uuid.New())
	if _, err := f.repo.MarkPaid(context.Background(), order.ID, nil, time.Now()); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	shipped, err := f.svc.UpdateStatus(context.Background(), order.ID, enums.OrderStatusShipped)
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if shipped.OrderStatus != enums.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", shipped.OrderStatus)
	}
	if _, err := f.svc.UpdateStatus(context.Background(), order.ID, enums.OrderStatusProcessing); pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	delivered, err := f.svc.UpdateStatus(context.Background(), order.ID, enums.OrderStatusDelivered)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if delivered.DeliveredAt == nil {
		t.Fatalf("expected delivered_at")
	}
}

func TestListScopesByRole(t *testing.T) {
	f := newFixture(t)
	customerA := uuid.New()
	customerB := uuid.New()
	orderA := placeOrder(t, f, customerA)
	placeOrder(t, f, customerB)

	mine, err := f.svc.List(context.Background(), Actor{UserID: customerA, Role: enums.ActorRoleCustomer}, ListParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine.Items) != 1 || mine.Items[0].ID != orderA.ID {
		t.Fatalf("customer should only see own orders, got %d", len(mine.Items))
	}

	vendorID := orderA.Items[0].VendorID
	vendorView, err := f.svc.List(context.Background(), Actor{UserID: vendorID, Role: enums.ActorRoleVendor}, ListParams{})
	if err != nil {
		t.Fatalf("vendor list: %v", err)
	}
	if len(vendorView.Items) != 1 || vendorView.Items[0].ID != orderA.ID {
		t.Fatalf("vendor should see orders with their items, got %d", len(vendorView.Items))
	}

	all, err := f.svc.List(context.Background(), Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}, ListParams{Params: pagination.Params{Limit: 1}})
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(all.Items) != 1 || all.Cursor == "" {
		t.Fatalf("expected one item and a cursor, got %d %q", len(all.Items), all.Cursor)
	}
}
