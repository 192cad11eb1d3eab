package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bazaar-backend/internal/dbtest"
	"github.com/angelmondragon/bazaar-backend/internal/ledger"
	"github.com/angelmondragon/bazaar-backend/internal/notifications"
	"github.com/angelmondragon/bazaar-backend/internal/orders"
	"github.com/angelmondragon/bazaar-backend/internal/products"
	"github.com/angelmondragon/bazaar-backend/internal/vendors"
	"github.com/angelmondragon/bazaar-backend/pkg/db"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/metrics"
	"github.com/angelmondragon/bazaar-backend/pkg/outbox"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notifications.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n notifications.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func newTestService(t *testing.T, notifier notifications.Notifier) (*Service, *db.Client) {
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
	svc, err := NewService(ServiceParams{
		Orders:   orders.NewRepository(client.DB()),
		Products: products.NewRepository(client.DB()),
		Vendors:  vendorSvc,
		Outbox:   outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Notifier: notifier,
		Metrics:  metrics.NewSettlementMetrics(prometheus.NewRegistry()),
		TxRunner: client,
		Logger:   logg,
	})
	require.NoError(t, err)
	return svc, client
}

func TestFinalizeOrderCreditsEachVendorOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, client := newTestService(t, notifier)
	ctx := context.Background()

	vendorA, vendorB := uuid.New(), uuid.New()
	dbtest.SeedVendor(t, client.DB(), vendorA, 0)
	productA := dbtest.SeedProduct(t, client.DB(), vendorA, "Tote", 1500, 5)
	productB := dbtest.SeedProduct(t, client.DB(), vendorB, "Beads", 2000, 5)
	order := dbtest.SeedOrder(t, client.DB(), uuid.New(), enums.PaymentStatusPending,
		dbtest.Line{Product: productA, Quantity: 2},
		dbtest.Line{Product: productB, Quantity: 1},
	)

	paid, err := svc.FinalizeOrder(ctx, order.ID, "PSK-REF-1")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, enums.OrderStatusProcessing, paid.OrderStatus)
	require.NotNil(t, paid.PaidAt)
	require.NotNil(t, paid.PaymentReference)
	assert.Equal(t, "PSK-REF-1", *paid.PaymentReference)

	a := dbtest.ReloadVendor(t, client.DB(), vendorA)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(2700)), "vendor A balance %s", a.Balance)
	assert.True(t, a.TotalSales.Equal(decimal.NewFromInt(3000)))
	assert.Equal(t, 1, a.TotalOrders)

	// vendor B had no profile and is provisioned by settlement
	b := dbtest.ReloadVendor(t, client.DB(), vendorB)
	assert.True(t, b.Balance.Equal(decimal.NewFromInt(1800)), "vendor B balance %s", b.Balance)
	assert.False(t, b.IsApproved)

	assert.Equal(t, 3, dbtest.ReloadProduct(t, client.DB(), productA.ID).Stock)
	assert.Equal(t, 4, dbtest.ReloadProduct(t, client.DB(), productB.ID).Stock)

	var events []models.OutboxEvent
	require.NoError(t, client.DB().Where("aggregate_id = ?", order.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderPaid, events[0].EventType)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, notifications.KindOrderConfirmation, notifier.sent[0].Kind)
}

func TestFinalizeOrderTwiceIsIdempotent(t *testing.T) {
	svc, client := newTestService(t, nil)
	ctx := context.Background()

	vendorID := uuid.New()
	product := dbtest.SeedProduct(t, client.DB(), vendorID, "Tote", 5000, 10)
	order := dbtest.SeedOrder(t, client.DB(), uuid.New(), enums.PaymentStatusPending, dbtest.Line{Product: product, Quantity: 2})

	_, err := svc.FinalizeOrder(ctx, order.ID, "client-verify")
	require.NoError(t, err)
	again, err := svc.FinalizeOrder(ctx, order.ID, "webhook")
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusPaid, again.PaymentStatus)
	assert.Equal(t, "client-verify", *again.PaymentReference)

	vendor := dbtest.ReloadVendor(t, client.DB(), vendorID)
	assert.True(t, vendor.Balance.Equal(decimal.NewFromInt(9000)), "balance %s", vendor.Balance)
	assert.Equal(t, 1, vendor.TotalOrders)
	assert.Equal(t, 8, dbtest.ReloadProduct(t, client.DB(), product.ID).Stock)

	var credits int64
	require.NoError(t, client.DB().Model(&models.LedgerEvent{}).
		Where("order_id = ? AND type = ?", order.ID, enums.LedgerEventSettlementCredit).
		Count(&credits).Error)
	assert.EqualValues(t, 1, credits)
}

func TestFinalizeOrderConcurrentTriggers(t *testing.T) {
	svc, client := newTestService(t, nil)
	ctx := context.Background()

	vendorID := uuid.New()
	product := dbtest.SeedProduct(t, client.DB(), vendorID, "Tote", 1000, 10)
	order := dbtest.SeedOrder(t, client.DB(), uuid.New(), enums.PaymentStatusPending, dbtest.Line{Product: product, Quantity: 1})

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.FinalizeOrder(ctx, order.ID, "ref")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	vendor := dbtest.ReloadVendor(t, client.DB(), vendorID)
	assert.True(t, vendor.Balance.Equal(decimal.NewFromInt(900)), "balance %s", vendor.Balance)
	assert.Equal(t, 9, dbtest.ReloadProduct(t, client.DB(), product.ID).Stock)
}

func TestFinalizeOrderSwallowsNotificationFailure(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	svc, client := newTestService(t, notifier)

	product := dbtest.SeedProduct(t, client.DB(), uuid.New(), "Tote", 1000, 1)
	order := dbtest.SeedOrder(t, client.DB(), uuid.New(), enums.PaymentStatusPending, dbtest.Line{Product: product, Quantity: 1})

	paid, err := svc.FinalizeOrder(context.Background(), order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, paid.PaymentStatus)
	assert.Len(t, notifier.sent, 1)
}

func TestFinalizeOrderClampsOversell(t *testing.T) {
	svc, client := newTestService(t, nil)

	product := dbtest.SeedProduct(t, client.DB(), uuid.New(), "Tote", 1000, 1)
	order := dbtest.SeedOrder(t, client.DB(), uuid.New(), enums.PaymentStatusPending, dbtest.Line{Product: product, Quantity: 3})

	_, err := svc.FinalizeOrder(context.Background(), order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 0, dbtest.ReloadProduct(t, client.DB(), product.ID).Stock)
}

func TestFinalizeOrderErrors(t *testing.T) {
	svc, client := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.FinalizeOrder(ctx, uuid.New(), "")
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	product := dbtest.SeedProduct(t, client.DB(), uuid.New(), "Tote", 1000, 1)
	order := dbtest.SeedOrder(t, client.DB(), uuid.New(), enums.PaymentStatusPending, dbtest.Line{Product: product, Quantity: 1})
	require.NoError(t, client.DB().Model(&models.Order{}).Where("id = ?", order.ID).
		Update("order_status", enums.OrderStatusCancelled).Error)

	_, err = svc.FinalizeOrder(ctx, order.ID, "")
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	vendorCount := int64(0)
	require.NoError(t, client.DB().Model(&models.Vendor{}).Count(&vendorCount).Error)
	assert.Zero(t, vendorCount)
}
