// Package settlement turns a verified payment into captured local state: the
// order is marked paid, stock is taken and every vendor on the order is
// credited, all in one transaction guarded by a conditional update.
package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/internal/notifications"
	"github.com/angelmondragon/bazaar-backend/internal/orders"
	"github.com/angelmondragon/bazaar-backend/internal/products"
	"github.com/angelmondragon/bazaar-backend/internal/vendors"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/logger"
	"github.com/angelmondragon/bazaar-backend/pkg/metrics"
	"github.com/angelmondragon/bazaar-backend/pkg/outbox"
	"github.com/angelmondragon/bazaar-backend/pkg/outbox/payloads"
)

type vendorCreditor interface {
	Credit(ctx context.Context, tx *gorm.DB, input vendors.CreditInput) (decimal.Decimal, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Orders   orders.Repository
	Products *products.Repository
	Vendors  vendorCreditor
	Outbox   outbox.Emitter
	Notifier notifications.Notifier
	Metrics  *metrics.SettlementMetrics
	TxRunner txRunner
	Logger   *logger.Logger
	Now      func() time.Time
}

type Service struct {
	orders   orders.Repository
	products *products.Repository
	vendors  vendorCreditor
	outbox   outbox.Emitter
	notifier notifications.Notifier
	metrics  *metrics.SettlementMetrics
	tx       txRunner
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("products repository required")
	}
	if params.Vendors == nil {
		return nil, fmt.Errorf("vendor ledger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = notifications.NoopNotifier{}
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		orders:   params.Orders,
		products: params.Products,
		vendors:  params.Vendors,
		outbox:   params.Outbox,
		notifier: notifier,
		metrics:  params.Metrics,
		tx:       params.TxRunner,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// FinalizeOrder captures the payment for orderID. It may be called any number
// of times from any trigger; only the call that wins the conditional
// pending->paid update applies stock and vendor credits. Later calls return
// the settled order unchanged.
func (s *Service) FinalizeOrder(ctx context.Context, orderID uuid.UUID, reference string) (*models.Order, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	var (
		settled     *models.Order
		duplicate   bool
		vendorsPaid []payloads.VendorAmount
	)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		paidAt := s.now()

		var ref *string
		if trimmed := strings.TrimSpace(reference); trimmed != "" {
			ref = &trimmed
		}
		rows, err := repo.MarkPaid(ctx, orderID, ref, paidAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
		}

		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		settled = order

		if rows == 0 {
			if order.PaymentStatus.IsSettled() {
				duplicate = true
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be settled").
				WithDetails(map[string]any{"payment_status": order.PaymentStatus, "order_status": order.OrderStatus})
		}

		if err := s.takeStock(ctx, tx, order); err != nil {
			return err
		}
		vendorsPaid, err = s.creditVendors(ctx, tx, order)
		if err != nil {
			return err
		}

		paymentRef := ""
		if order.PaymentReference != nil {
			paymentRef = *order.PaymentReference
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			OccurredAt:    paidAt,
			Data: payloads.OrderPaidEvent{
				OrderID:          order.ID,
				OrderNumber:      order.OrderNumber,
				CustomerID:       order.CustomerID,
				Total:            order.Total,
				Currency:         order.Currency,
				PaymentMethod:    string(order.PaymentMethod),
				PaymentReference: paymentRef,
				PaidAt:           paidAt,
				Vendors:          vendorsPaid,
			},
		})
	})
	if err != nil {
		s.metrics.IncFinalizeError()
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize order")
	}

	if duplicate {
		s.logg.Info(ctx, "settlement.duplicate")
		s.metrics.ObserveFinalize(true, settled.Currency, settled.Total)
		return settled, nil
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"total":   settled.Total.StringFixed(2),
		"vendors": len(vendorsPaid),
	}), "settlement.finalized")
	s.metrics.ObserveFinalize(false, settled.Currency, settled.Total)
	s.confirm(ctx, settled)
	return settled, nil
}

func (s *Service) takeStock(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	repo := s.products.WithTx(tx)
	for _, item := range order.Items {
		oversold, err := repo.DecrementStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement stock")
		}
		if oversold {
			s.logg.Warn(s.logg.WithField(ctx, "product_id", item.ProductID.String()), "settlement.oversold")
		}
	}
	return nil
}

func (s *Service) creditVendors(ctx context.Context, tx *gorm.DB, order *models.Order) ([]payloads.VendorAmount, error) {
	gross := order.GrossByVendor()
	out := make([]payloads.VendorAmount, 0, len(gross))
	for _, vendorID := range order.VendorIDs() {
		net, err := s.vendors.Credit(ctx, tx, vendors.CreditInput{
			OwnerID:     vendorID,
			OrderID:     order.ID,
			Gross:       gross[vendorID],
			OrdersDelta: 1,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, payloads.VendorAmount{VendorID: vendorID, Gross: gross[vendorID], Net: net})
	}
	return out, nil
}

func (s *Service) confirm(ctx context.Context, order *models.Order) {
	err := s.notifier.Notify(ctx, notifications.Notification{
		Kind:        notifications.KindOrderConfirmation,
		Recipient:   order.CustomerEmail,
		Subject:     "Order " + order.OrderNumber + " confirmed",
		AggregateID: order.ID,
		Data: map[string]any{
			"orderNumber": order.OrderNumber,
			"total":       order.Total.StringFixed(2),
			"currency":    order.Currency,
		},
	})
	if err != nil {
		s.logg.Error(ctx, "notification.failed", err)
	}
}
