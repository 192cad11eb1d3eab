// Package refunds returns money to customers. The provider refund always runs
// first; local effects (order, vendor balances, stock, refund record, outbox)
// are applied in one transaction only after the provider confirmed.
package refunds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/internal/gateway"
	"github.com/angelmondragon/bazaar-backend/internal/notifications"
	"github.com/angelmondragon/bazaar-backend/internal/orders"
	"github.com/angelmondragon/bazaar-backend/internal/products"
	"github.com/angelmondragon/bazaar-backend/internal/vendors"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/lock"
	"github.com/angelmondragon/bazaar-backend/pkg/logger"
	"github.com/angelmondragon/bazaar-backend/pkg/metrics"
	"github.com/angelmondragon/bazaar-backend/pkg/outbox"
	"github.com/angelmondragon/bazaar-backend/pkg/outbox/payloads"
)

type vendorLedger interface {
	NetOf(gross decimal.Decimal) decimal.Decimal
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Vendor, error)
	Debit(ctx context.Context, tx *gorm.DB, input vendors.DebitInput) error
}

type refundedNet interface {
	RefundedNet(ctx context.Context, tx *gorm.DB, orderID, vendorID uuid.UUID) (decimal.Decimal, error)
}

type gatewayResolver interface {
	Resolve(provider enums.PaymentProvider) (gateway.Adapter, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Input describes one refund request. Amount and VendorID only apply to
// partial refunds.
type Input struct {
	OrderID     uuid.UUID
	Kind        enums.RefundKind
	Amount      *decimal.Decimal
	VendorID    *uuid.UUID
	DisputeID   *uuid.UUID
	InitiatedBy uuid.UUID

	// InTx runs inside the local-effects transaction after the refund row is
	// written; an error rolls the local effects back.
	InTx func(ctx context.Context, tx *gorm.DB, refund *models.Refund) error
}

type Result struct {
	Order  *models.Order  `json:"order"`
	Refund *models.Refund `json:"refund"`
}

type ServiceParams struct {
	Repo          Repository
	Orders        orders.Repository
	Products      *products.Repository
	Vendors       vendorLedger
	Ledger        refundedNet
	Gateways      gatewayResolver
	Outbox        outbox.Emitter
	Notifier      notifications.Notifier
	Locker        lock.Locker
	Metrics       *metrics.SettlementMetrics
	TxRunner      txRunner
	Logger        *logger.Logger
	RefundTimeout time.Duration
	Now           func() time.Time
}

type Service struct {
	repo          Repository
	orders        orders.Repository
	products      *products.Repository
	vendors       vendorLedger
	ledger        refundedNet
	gateways      gatewayResolver
	outbox        outbox.Emitter
	notifier      notifications.Notifier
	locker        lock.Locker
	metrics       *metrics.SettlementMetrics
	tx            txRunner
	logg          *logger.Logger
	refundTimeout time.Duration
	now           func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("refunds repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Products == nil:
		return nil, fmt.Errorf("products repository required")
	case params.Vendors == nil:
		return nil, fmt.Errorf("vendor ledger required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Gateways == nil:
		return nil, fmt.Errorf("gateway registry required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.TxRunner == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Logger == nil:
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
		repo:          params.Repo,
		orders:        params.Orders,
		products:      params.Products,
		vendors:       params.Vendors,
		ledger:        params.Ledger,
		gateways:      params.Gateways,
		outbox:        params.Outbox,
		notifier:      notifier,
		locker:        params.Locker,
		metrics:       params.Metrics,
		tx:            params.TxRunner,
		logg:          params.Logger,
		refundTimeout: params.RefundTimeout,
		now:           now,
	}, nil
}

// plan is the refund worked out before the provider is called.
type plan struct {
	order         *models.Order
	kind          enums.RefundKind
	amount        decimal.Decimal
	gatewayAmount *decimal.Decimal
	vendorID      *uuid.UUID
	newRefunded   decimal.Decimal
	status        enums.PaymentStatus
}

// Refund executes a full or partial refund. A provider failure leaves every
// local record untouched.
func (s *Service) Refund(ctx context.Context, input Input) (*Result, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund kind")
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())

	release, err := s.acquire(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.prepare(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := s.checkBalances(ctx, p); err != nil {
		return nil, err
	}

	adapter, err := s.gateways.Resolve(p.order.PaymentMethod)
	if err != nil {
		return nil, err
	}
	providerRef, err := s.callGateway(ctx, adapter, p)
	if err != nil {
		s.metrics.ObserveRefund(string(p.kind), "gateway_failed", p.amount)
		s.logg.Error(ctx, "refund.gateway_failed", err)
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeGateway {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "provider refund failed")
	}

	refund := &models.Refund{
		OrderID:           p.order.ID,
		DisputeID:         input.DisputeID,
		VendorID:          p.vendorID,
		Kind:              p.kind,
		Amount:            p.amount,
		Provider:          string(adapter.Provider()),
		ProviderReference: providerRef,
		Status:            enums.RefundStatusSucceeded,
		InitiatedBy:       input.InitiatedBy,
	}
	updated, applyErr := s.apply(ctx, p, refund, input)
	if applyErr != nil {
		return nil, s.reconcile(ctx, p, input, adapter.Provider(), providerRef, applyErr)
	}

	s.metrics.ObserveRefund(string(p.kind), "succeeded", p.amount)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"kind":   p.kind,
		"amount": p.amount.StringFixed(2),
	}), "refund.applied")
	s.notify(ctx, updated, refund)
	return &Result{Order: updated, Refund: refund}, nil
}

func (s *Service) acquire(ctx context.Context, orderID uuid.UUID) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	lease, err := s.locker.Acquire(ctx, orderID.String())
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a refund for this order is already in progress")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire order lock")
	}
	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Warn(ctx, "refund.lock_release_failed: "+err.Error())
		}
	}, nil
}

func (s *Service) prepare(ctx context.Context, input Input) (*plan, error) {
	order, err := s.orders.FindByID(ctx, input.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if !order.PaymentStatus.IsRefundable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not refundable").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus})
	}
	if order.PaymentReference == nil || *order.PaymentReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no payment reference")
	}

	remaining := order.RefundableAmount()
	p := &plan{order: order, kind: input.Kind}
	switch input.Kind {
	case enums.RefundKindFull:
		if !remaining.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already fully refunded")
		}
		p.amount = remaining
		if order.RefundedAmount.IsPositive() {
			amount := remaining
			p.gatewayAmount = &amount
		}
		p.newRefunded = order.Total
		p.status = enums.PaymentStatusRefunded
	case enums.RefundKindPartial:
		if input.Amount == nil || !input.Amount.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be greater than zero")
		}
		amount := input.Amount.Round(2)
		if amount.GreaterThan(remaining) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount exceeds refundable balance").
				WithDetails(map[string]any{"refundable": remaining.StringFixed(2)})
		}
		vendorID, err := attributedVendor(order, input.VendorID)
		if err != nil {
			return nil, err
		}
		p.amount = amount
		p.gatewayAmount = &amount
		p.vendorID = &vendorID
		p.newRefunded = order.RefundedAmount.Add(amount)
		// A partial refund never cancels the order or restores stock, even when
		// it reaches the order total.
		p.status = enums.PaymentStatusPartiallyRefunded
	}
	return p, nil
}

// attributedVendor picks the vendor whose balance a partial refund debits.
func attributedVendor(order *models.Order, requested *uuid.UUID) (uuid.UUID, error) {
	if requested != nil && *requested != uuid.Nil {
		if !order.HasVendor(*requested) {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor is not part of this order")
		}
		return *requested, nil
	}
	ids := order.VendorIDs()
	if len(ids) == 1 {
		return ids[0], nil
	}
	return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required for a partial refund on a multi-vendor order")
}

type debit struct {
	vendorID    uuid.UUID
	gross       decimal.Decimal
	net         decimal.Decimal
	ordersDelta int
}

func (s *Service) debits(ctx context.Context, tx *gorm.DB, p *plan) ([]debit, error) {
	if p.kind == enums.RefundKindPartial {
		return []debit{{vendorID: *p.vendorID, gross: p.amount, net: s.vendors.NetOf(p.amount)}}, nil
	}
	gross := p.order.GrossByVendor()
	out := make([]debit, 0, len(gross))
	for _, vendorID := range p.order.VendorIDs() {
		already, err := s.ledger.RefundedNet(ctx, tx, p.order.ID, vendorID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum prior refunds")
		}
		net := s.vendors.NetOf(gross[vendorID]).Sub(already)
		if net.IsNegative() {
			net = decimal.Zero
		}
		out = append(out, debit{vendorID: vendorID, gross: gross[vendorID], net: net, ordersDelta: 1})
	}
	return out, nil
}

// checkBalances rejects the refund before the provider is called when a
// vendor balance could not absorb its debit.
func (s *Service) checkBalances(ctx context.Context, p *plan) error {
	planned, err := s.debits(ctx, nil, p)
	if err != nil {
		return err
	}
	for _, d := range planned {
		if d.net.IsZero() {
			continue
		}
		vendor, err := s.vendors.GetByOwner(ctx, d.vendorID)
		if err != nil && pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
			return err
		}
		balance := decimal.Zero
		if vendor != nil {
			balance = vendor.Balance
		}
		if balance.LessThan(d.net) {
			return pkgerrors.New(pkgerrors.CodeValidation, "vendor balance cannot cover refund").
				WithDetails(map[string]any{"vendor_id": d.vendorID, "required": d.net.StringFixed(2), "balance": balance.StringFixed(2)})
		}
	}
	return nil
}

func (s *Service) callGateway(ctx context.Context, adapter gateway.Adapter, p *plan) (*string, error) {
	callCtx := ctx
	if s.refundTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.refundTimeout)
		defer cancel()
	}
	res, err := adapter.Refund(callCtx, *p.order.PaymentReference, p.gatewayAmount)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Reference == "" {
		return nil, nil
	}
	ref := res.Reference
	return &ref, nil
}

func (s *Service) apply(ctx context.Context, p *plan, refund *models.Refund, input Input) (*models.Order, error) {
	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		full := p.kind == enums.RefundKindFull
		rows, err := repo.ApplyRefund(ctx, p.order.ID, p.order.RefundedAmount, p.newRefunded, p.status, full)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply refund to order")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed while refund was in flight")
		}

		planned, err := s.debits(ctx, tx, p)
		if err != nil {
			return err
		}
		vendorAmounts := make([]payloads.VendorAmount, 0, len(planned))
		for _, d := range planned {
			if err := s.vendors.Debit(ctx, tx, vendors.DebitInput{
				OwnerID:     d.vendorID,
				OrderID:     p.order.ID,
				DisputeID:   input.DisputeID,
				Gross:       d.gross,
				Net:         d.net,
				OrdersDelta: d.ordersDelta,
			}); err != nil {
				return err
			}
			vendorAmounts = append(vendorAmounts, payloads.VendorAmount{VendorID: d.vendorID, Gross: d.gross, Net: d.net})
		}

		restored := false
		if full {
			restored, err = s.restoreStock(ctx, tx, p.order)
			if err != nil {
				return err
			}
		}

		if err := s.repo.WithTx(tx).Create(ctx, refund); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
		}
		if input.InTx != nil {
			if err := input.InTx(ctx, tx, refund); err != nil {
				return err
			}
		}

		providerRef := ""
		if refund.ProviderReference != nil {
			providerRef = *refund.ProviderReference
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   p.order.ID,
			Actor:         &outbox.ActorRef{UserID: input.InitiatedBy, Role: string(enums.ActorRoleAdmin)},
			Data: payloads.OrderRefundedEvent{
				OrderID:           p.order.ID,
				RefundID:          refund.ID,
				DisputeID:         input.DisputeID,
				Kind:              string(p.kind),
				Amount:            p.amount,
				RefundedAmount:    p.newRefunded,
				PaymentStatus:     string(p.status),
				ProviderReference: providerRef,
				StockRestored:     restored,
				Vendors:           vendorAmounts,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit refund event")
		}

		updated, err = repo.FindByID(ctx, p.order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		return nil
	})
	return updated, err
}

// restoreStock returns every item to stock once per order.
func (s *Service) restoreStock(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error) {
	rows, err := s.orders.WithTx(tx).MarkStockRestored(ctx, order.ID, s.now())
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark stock restored")
	}
	if rows == 0 {
		return false, nil
	}
	repo := s.products.WithTx(tx)
	for _, item := range order.Items {
		if err := repo.RestoreStock(ctx, item.ProductID, item.Quantity); err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restore stock")
		}
	}
	return true, nil
}

// reconcile records a provider-confirmed refund whose local effects were
// rolled back so an operator can settle it by hand.
func (s *Service) reconcile(ctx context.Context, p *plan, input Input, provider enums.PaymentProvider, providerRef *string, cause error) error {
	msg := cause.Error()
	row := &models.Refund{
		OrderID:           p.order.ID,
		DisputeID:         input.DisputeID,
		VendorID:          p.vendorID,
		Kind:              p.kind,
		Amount:            p.amount,
		Provider:          string(provider),
		ProviderReference: providerRef,
		Status:            enums.RefundStatusReconciliationRequired,
		Error:             &msg,
		InitiatedBy:       input.InitiatedBy,
	}
	if err := s.repo.Create(context.WithoutCancel(ctx), row); err != nil {
		s.logg.Error(ctx, "refund.reconciliation_record_failed", err)
	}
	s.metrics.ObserveRefund(string(p.kind), "reconciliation_required", p.amount)
	s.logg.Error(ctx, "refund.reconciliation_required", cause)

	code := pkgerrors.CodeOf(cause)
	if code != pkgerrors.CodeConflict {
		code = pkgerrors.CodeInternal
	}
	details := map[string]any{"refund_id": row.ID, "amount": p.amount.StringFixed(2)}
	if providerRef != nil {
		details["provider_reference"] = *providerRef
	}
	return pkgerrors.Wrap(code, cause, "refund issued by provider but not applied locally; reconciliation required").
		WithDetails(details)
}

func (s *Service) notify(ctx context.Context, order *models.Order, refund *models.Refund) {
	err := s.notifier.Notify(ctx, notifications.Notification{
		Kind:        notifications.KindRefundIssued,
		Recipient:   order.CustomerEmail,
		Subject:     "Refund for order " + order.OrderNumber,
		AggregateID: order.ID,
		Data: map[string]any{
			"orderNumber": order.OrderNumber,
			"amount":      refund.Amount.StringFixed(2),
			"currency":    order.Currency,
			"kind":        string(refund.Kind),
		},
	})
	if err != nil {
		s.logg.Error(ctx, "notification.failed", err)
	}
}

// ListForOrder returns every refund recorded against an order.
func (s *Service) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
	}
	return rows, nil
}
