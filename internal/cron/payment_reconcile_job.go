package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/bazaar-backend/internal/gateway"
	"github.com/angelmondragon/bazaar-backend/internal/orders"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/logger"
)

const (
	defaultReconcileAfter = 15 * time.Minute
	defaultAbandonAfter   = 48 * time.Hour
	defaultReconcileBatch = 100
)

type PaymentReconcileJobParams struct {
	Logger         *logger.Logger
	Orders         unpaidOrderStore
	Gateways       gatewayResolver
	Finalizer      orders.Finalizer
	Verify         gateway.VerifyPolicy
	ReconcileAfter time.Duration
	AbandonAfter   time.Duration
	BatchSize      int
}

type unpaidOrderStore interface {
	ListUnpaidBefore(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
	DeleteUnpaid(ctx context.Context, id uuid.UUID) (int64, error)
}

type gatewayResolver interface {
	Resolve(provider enums.PaymentProvider) (gateway.Adapter, error)
}

// NewPaymentReconcileJob settles orders whose customer paid but whose
// callback and redirect were both lost, and deletes orders that stayed
// unpaid past the abandon window.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders store required")
	}
	if params.Gateways == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	if params.Finalizer == nil {
		return nil, fmt.Errorf("settlement finalizer required")
	}
	reconcileAfter := params.ReconcileAfter
	if reconcileAfter <= 0 {
		reconcileAfter = defaultReconcileAfter
	}
	abandonAfter := params.AbandonAfter
	if abandonAfter <= 0 {
		abandonAfter = defaultAbandonAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &paymentReconcileJob{
		logg:           params.Logger,
		orders:         params.Orders,
		gateways:       params.Gateways,
		finalizer:      params.Finalizer,
		verify:         params.Verify,
		reconcileAfter: reconcileAfter,
		abandonAfter:   abandonAfter,
		batch:          batch,
		now:            time.Now,
	}, nil
}

type paymentReconcileJob struct {
	logg           *logger.Logger
	orders         unpaidOrderStore
	gateways       gatewayResolver
	finalizer      orders.Finalizer
	verify         gateway.VerifyPolicy
	reconcileAfter time.Duration
	abandonAfter   time.Duration
	batch          int
	now            func() time.Time
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	pending, err := j.orders.ListUnpaidBefore(ctx, now.Add(-j.reconcileAfter), j.batch)
	if err != nil {
		return fmt.Errorf("list unpaid orders: %w", err)
	}

	abandonCutoff := now.Add(-j.abandonAfter)
	var errs error
	settled, abandoned := 0, 0
	for i := range pending {
		order := &pending[i]
		orderCtx := j.logg.WithOrderID(ctx, order.ID.String())

		paid, err := j.reconcile(orderCtx, order)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		if paid {
			settled++
			continue
		}
		if order.CreatedAt.Before(abandonCutoff) {
			rows, err := j.orders.DeleteUnpaid(orderCtx, order.ID)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("delete order %s: %w", order.ID, err))
				continue
			}
			if rows > 0 {
				abandoned++
				j.logg.Info(orderCtx, "payment.reconcile_abandoned")
			}
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":   len(pending),
		"settled":   settled,
		"abandoned": abandoned,
	})
	j.logg.Info(logCtx, "payment reconcile loop complete")
	return errs
}

// reconcile reports whether the order was settled from the provider's record.
// A reference the provider does not know counts as unpaid.
func (j *paymentReconcileJob) reconcile(ctx context.Context, order *models.Order) (bool, error) {
	if order.PaymentReference == nil || *order.PaymentReference == "" {
		return false, nil
	}
	adapter, err := j.gateways.Resolve(order.PaymentMethod)
	if err != nil {
		return false, err
	}
	result, err := gateway.VerifyWithRetry(ctx, adapter, *order.PaymentReference, j.verify)
	if err != nil {
		switch pkgerrors.CodeOf(err) {
		case pkgerrors.CodeNotFound, pkgerrors.CodeValidation:
			return false, nil
		}
		return false, err
	}
	if problem := orders.PaymentProblem(order, result); problem != "" {
		return false, nil
	}
	if _, err := j.finalizer.FinalizeOrder(ctx, order.ID, *order.PaymentReference); err != nil {
		return false, err
	}
	j.logg.Info(ctx, "payment.reconcile_settled")
	return true, nil
}
