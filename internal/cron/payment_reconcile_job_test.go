package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bazaar-backend/internal/gateway"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/logger"
)

var reconcileNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPaymentReconcileSettlesPaidOrders(t *testing.T) {
	paid := unpaidOrder("ORD-paid", 30*time.Minute)
	store := &fakeUnpaidStore{orders: []models.Order{paid}}
	adapter := &fakeAdapter{results: map[string]*gateway.VerifyResult{
		"ORD-paid": {Success: true, Amount: decimal.NewFromInt(5000), Currency: "NGN"},
	}}
	finalizer := &fakeFinalizer{}
	job := newReconcileJob(t, store, adapter, finalizer)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(finalizer.calls) != 1 || finalizer.calls[0] != paid.ID {
		t.Fatalf("expected order finalized once, got %v", finalizer.calls)
	}
	if len(store.deleted) != 0 {
		t.Fatalf("paid order must not be deleted")
	}
	if !store.cutoff.Equal(reconcileNow.Add(-15 * time.Minute)) {
		t.Fatalf("unexpected list cutoff %s", store.cutoff)
	}
}

func TestPaymentReconcileAbandonsStaleUnpaidOrders(t *testing.T) {
	stale := unpaidOrder("ORD-stale", 72*time.Hour)
	fresh := unpaidOrder("ORD-fresh", time.Hour)
	noRef := unpaidOrder("", 72*time.Hour)
	noRef.PaymentReference = nil
	store := &fakeUnpaidStore{orders: []models.Order{stale, fresh, noRef}}
	adapter := &fakeAdapter{results: map[string]*gateway.VerifyResult{
		"ORD-stale": {Success: false, Status: "abandoned"},
		"ORD-fresh": {Success: false, Status: "abandoned"},
	}}
	finalizer := &fakeFinalizer{}
	job := newReconcileJob(t, store, adapter, finalizer)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(finalizer.calls) != 0 {
		t.Fatalf("unpaid orders must not settle")
	}
	if len(store.deleted) != 2 || store.deleted[0] != stale.ID || store.deleted[1] != noRef.ID {
		t.Fatalf("expected stale and reference-less orders deleted, got %v", store.deleted)
	}
}

func TestPaymentReconcileRejectsUnderpayment(t *testing.T) {
	short := unpaidOrder("ORD-short", time.Hour)
	store := &fakeUnpaidStore{orders: []models.Order{short}}
	adapter := &fakeAdapter{results: map[string]*gateway.VerifyResult{
		"ORD-short": {Success: true, Amount: decimal.NewFromInt(4000), Currency: "NGN"},
	}}
	finalizer := &fakeFinalizer{}
	job := newReconcileJob(t, store, adapter, finalizer)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(finalizer.calls) != 0 {
		t.Fatalf("underpaid order must not settle")
	}
}

func TestPaymentReconcileKeepsOrdersWhenProviderFails(t *testing.T) {
	stale := unpaidOrder("ORD-flaky", 72*time.Hour)
	unknown := unpaidOrder("ORD-unknown", 72*time.Hour)
	store := &fakeUnpaidStore{orders: []models.Order{stale, unknown}}
	adapter := &fakeAdapter{errs: map[string]error{
		"ORD-flaky":   pkgerrors.New(pkgerrors.CodeDependency, "provider timeout"),
		"ORD-unknown": pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found"),
	}}
	job := newReconcileJob(t, store, adapter, &fakeFinalizer{})

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected provider failure to surface")
	}
	if len(store.deleted) != 1 || store.deleted[0] != unknown.ID {
		t.Fatalf("only the unknown reference may be abandoned, got %v", store.deleted)
	}
}

func TestPaymentReconcileListFailure(t *testing.T) {
	store := &fakeUnpaidStore{listErr: errors.New("db down")}
	job := newReconcileJob(t, store, &fakeAdapter{}, &fakeFinalizer{})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected list error")
	}
}

func newReconcileJob(t *testing.T, store *fakeUnpaidStore, adapter *fakeAdapter, finalizer *fakeFinalizer) *paymentReconcileJob {
	t.Helper()
	registry, err := gateway.NewRegistry(enums.PaymentProviderPaystack, adapter)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	jobIface, err := NewPaymentReconcileJob(PaymentReconcileJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Orders:    store,
		Gateways:  registry,
		Finalizer: finalizer,
		Verify:    gateway.VerifyPolicy{Attempts: 1},
	})
	if err != nil {
		t.Fatalf("NewPaymentReconcileJob: %v", err)
	}
	job := jobIface.(*paymentReconcileJob)
	job.now = func() time.Time { return reconcileNow }
	return job
}

func unpaidOrder(reference string, age time.Duration) models.Order {
	ref := reference
	return models.Order{
		ID:               uuid.New(),
		Total:            decimal.NewFromInt(5000),
		Currency:         "NGN",
		PaymentMethod:    enums.PaymentProviderPaystack,
		PaymentStatus:    enums.PaymentStatusPending,
		OrderStatus:      enums.OrderStatusPending,
		PaymentReference: &ref,
		CreatedAt:        reconcileNow.Add(-age),
	}
}

type fakeUnpaidStore struct {
	orders  []models.Order
	listErr error
	cutoff  time.Time
	deleted []uuid.UUID
}

func (f *fakeUnpaidStore) ListUnpaidBefore(_ context.Context, before time.Time, _ int) ([]models.Order, error) {
	f.cutoff = before
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Order
	for _, o := range f.orders {
		if o.CreatedAt.Before(before) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeUnpaidStore) DeleteUnpaid(_ context.Context, id uuid.UUID) (int64, error) {
	f.deleted = append(f.deleted, id)
	return 1, nil
}

type fakeAdapter struct {
	results map[string]*gateway.VerifyResult
	errs    map[string]error
}

func (f *fakeAdapter) Provider() enums.PaymentProvider { return enums.PaymentProviderPaystack }

func (f *fakeAdapter) Initialize(context.Context, gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeAdapter) Verify(_ context.Context, reference string) (*gateway.VerifyResult, error) {
	if err, ok := f.errs[reference]; ok {
		return nil, err
	}
	if res, ok := f.results[reference]; ok {
		res.Reference = reference
		return res, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
}

func (f *fakeAdapter) Refund(context.Context, string, *decimal.Decimal) (*gateway.RefundResult, error) {
	return nil, errors.New("not used")
}

type fakeFinalizer struct {
	calls []uuid.UUID
}

func (f *fakeFinalizer) FinalizeOrder(_ context.Context, orderID uuid.UUID, _ string) (*models.Order, error) {
	f.calls = append(f.calls, orderID)
	return &models.Order{ID: orderID, PaymentStatus: enums.PaymentStatusPaid}, nil
}
