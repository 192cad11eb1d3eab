// Package webhooks turns verified provider callbacks into settlement calls.
package webhooks

import (
	"context"
	"strings"

	"github.com/angelmondragon/bazaar-backend/internal/gateway"
	"github.com/angelmondragon/bazaar-backend/internal/orders"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/logger"
	"github.com/angelmondragon/bazaar-backend/pkg/metrics"
	"github.com/google/uuid"
)

// Outcome describes what a delivery did.
type Outcome string

const (
	OutcomeSettled   Outcome = "settled"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
)

type orderReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type ServiceParams struct {
	Orders    orderReader
	Finalizer orders.Finalizer
	Metrics   *metrics.SettlementMetrics
	Logger    *logger.Logger
}

type Service struct {
	orders    orderReader
	finalizer orders.Finalizer
	metrics   *metrics.SettlementMetrics
	logg      *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repo required")
	}
	if params.Finalizer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "finalizer required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		orders:    params.Orders,
		finalizer: params.Finalizer,
		metrics:   params.Metrics,
		logg:      params.Logger,
	}, nil
}

// HandleDelivery settles the order a successful payment callback refers to.
// Deliveries that cannot settle (wrong event, failed charge, short payment)
// are acknowledged without error so the provider stops retrying.
func (s *Service) HandleDelivery(ctx context.Context, provider string, delivery *Delivery) (Outcome, error) {
	outcome, err := s.handle(ctx, provider, delivery)
	if err != nil {
		s.metrics.IncWebhook(provider, "error")
		return "", err
	}
	s.metrics.IncWebhook(provider, string(outcome))
	return outcome, nil
}

func (s *Service) handle(ctx context.Context, provider string, delivery *Delivery) (Outcome, error) {
	if delivery == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "delivery required")
	}
	payment := delivery.Payment
	if payment == nil || !payment.Success {
		return OutcomeIgnored, nil
	}

	orderID, ok := paymentOrderID(payment)
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order id missing from payment metadata").
			WithDetails(map[string]any{"reference": payment.Reference})
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.PaymentStatus.IsSettled() {
		return OutcomeDuplicate, nil
	}
	if problem := orders.PaymentProblem(order, payment); problem != "" {
		logCtx := s.logg.WithPayment(ctx, provider, payment.Reference)
		logCtx = s.logg.WithOrderID(logCtx, order.ID.String())
		s.logg.Warn(s.logg.WithField(logCtx, "problem", problem), "webhook.payment_rejected")
		return OutcomeRejected, nil
	}

	if _, err := s.finalizer.FinalizeOrder(ctx, order.ID, payment.Reference); err != nil {
		return "", err
	}
	return OutcomeSettled, nil
}

func paymentOrderID(payment *gateway.VerifyResult) (uuid.UUID, bool) {
	if raw := strings.TrimSpace(payment.OrderID); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return id, true
		}
	}
	return gateway.OrderIDFromReference(payment.Reference)
}
