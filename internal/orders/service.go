package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/internal/gateway"
	"github.com/angelmondragon/bazaar-backend/pkg/config"
	"github.com/angelmondragon/bazaar-backend/pkg/db"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/logger"
	"github.com/angelmondragon/bazaar-backend/pkg/pagination"
)

const orderNumberAttempts = 3

type productLookup interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

type gatewayResolver interface {
	Resolve(provider enums.PaymentProvider) (gateway.Adapter, error)
}

// Finalizer is the settlement engine entry point.
type Finalizer interface {
	FinalizeOrder(ctx context.Context, orderID uuid.UUID, reference string) (*models.Order, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Repo      Repository
	Products  productLookup
	Gateways  gatewayResolver
	Finalizer Finalizer
	TxRunner  txRunner
	Checkout  config.CheckoutConfig
	Verify    gateway.VerifyPolicy
	Logger    *logger.Logger
	Now       func() time.Time
}

type Service struct {
	repo      Repository
	products  productLookup
	gateways  gatewayResolver
	finalizer Finalizer
	tx        txRunner
	checkout  config.CheckoutConfig
	verify    gateway.VerifyPolicy
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repo required")
	}
	if params.Products == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "product lookup required")
	}
	if params.Gateways == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway registry required")
	}
	if params.Finalizer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement finalizer required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:      params.Repo,
		products:  params.Products,
		gateways:  params.Gateways,
		finalizer: params.Finalizer,
		tx:        params.TxRunner,
		checkout:  params.Checkout,
		verify:    params.Verify,
		logg:      params.Logger,
		now:       now,
	}, nil
}

// Totals computes shipping and tax for a subtotal. Total is fixed from here on.
func (s *Service) Totals(subtotal decimal.Decimal) (shipping, tax, total decimal.Decimal) {
	shipping = s.checkout.ShippingFee
	if s.checkout.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(s.checkout.FreeShippingThreshold) {
		shipping = decimal.Zero
	}
	tax = subtotal.Mul(s.checkout.TaxRate).Round(2)
	total = subtotal.Add(shipping).Add(tax)
	return shipping, tax, total
}

// Checkout prices the cart, persists a pending order and starts a hosted
// payment. A gateway failure deletes the order again.
func (s *Service) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer email required")
	}
	address := input.ShippingAddress.Normalize()
	if err := address.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}
	adapter, err := s.gateways.Resolve(input.PaymentMethod)
	if err != nil {
		return nil, err
	}

	lines, err := mergeLines(input.Items)
	if err != nil {
		return nil, err
	}
	items, subtotal, err := s.priceLines(ctx, lines)
	if err != nil {
		return nil, err
	}
	shipping, tax, total := s.Totals(subtotal)

	order := &models.Order{
		CustomerID:      input.CustomerID,
		CustomerEmail:   email,
		Items:           items,
		ShippingAddress: address,
		PaymentMethod:   adapter.Provider(),
		PaymentStatus:   enums.PaymentStatusPending,
		OrderStatus:     enums.OrderStatusPending,
		Currency:        s.checkout.Currency,
		Subtotal:        subtotal,
		ShippingFee:     shipping,
		Tax:             tax,
		Total:           total,
		RefundedAmount:  decimal.Zero,
	}
	if err := s.createWithNumber(ctx, order); err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	reference := gateway.NewReference(order.ID, s.now())
	initialized, err := adapter.Initialize(ctx, gateway.InitializeRequest{
		Email:       email,
		Amount:      total,
		Currency:    order.Currency,
		OrderID:     order.ID,
		Reference:   reference,
		CallbackURL: s.checkout.CallbackURL,
		Metadata:    map[string]any{"orderNumber": order.OrderNumber},
	})
	if err != nil {
		s.compensateCheckout(ctx, order.ID)
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeGateway {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "payment initialization failed")
	}
	if initialized.Reference != "" {
		reference = initialized.Reference
	}
	if err := s.repo.SetPaymentReference(ctx, order.ID, reference); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment reference")
	}
	order.PaymentReference = &reference

	s.logg.Info(ctx, fmt.Sprintf("checkout.created total=%s provider=%s", total.StringFixed(2), adapter.Provider()))
	return &CheckoutResult{Order: order, RedirectURL: initialized.RedirectURL, Reference: reference}, nil
}

func (s *Service) compensateCheckout(ctx context.Context, orderID uuid.UUID) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.repo.WithTx(tx).DeleteUnpaid(ctx, orderID)
		return err
	})
	if err != nil {
		s.logg.Error(ctx, "checkout.compensation_failed", err)
		return
	}
	s.logg.Warn(ctx, "checkout.rolled_back")
}

func (s *Service) createWithNumber(ctx context.Context, order *models.Order) error {
	var lastErr error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order.OrderNumber = NewOrderNumber(s.now())
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.repo.WithTx(tx).Create(ctx, order)
		})
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		lastErr = err
		order.ID = uuid.Nil
		for i := range order.Items {
			order.Items[i].ID = uuid.Nil
			order.Items[i].OrderID = uuid.Nil
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, lastErr, "could not allocate order number")
}

func mergeLines(items []CheckoutItem) ([]CheckoutItem, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	index := make(map[uuid.UUID]int, len(items))
	merged := make([]CheckoutItem, 0, len(items))
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

func (s *Service) priceLines(ctx context.Context, lines []CheckoutItem) ([]models.OrderItem, decimal.Decimal, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}

	subtotal := decimal.Zero
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok || !product.IsActive {
			return nil, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "product not available").
				WithDetails(map[string]any{"product_id": line.ProductID})
		}
		if product.Stock < line.Quantity {
			return nil, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "insufficient stock").
				WithDetails(map[string]any{"product_id": line.ProductID, "available": product.Stock, "requested": line.Quantity})
		}
		lineSubtotal := product.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, models.OrderItem{
			ProductID: product.ID,
			VendorID:  product.VendorID,
			Name:      product.Name,
			Image:     product.ImageURL,
			Price:     product.Price,
			Quantity:  line.Quantity,
			Subtotal:  lineSubtotal,
		})
		subtotal = subtotal.Add(lineSubtotal)
	}
	return items, subtotal, nil
}

// VerifyPayment confirms a payment with the provider and finalizes the order.
// Already-settled orders are returned unchanged.
func (s *Service) VerifyPayment(ctx context.Context, actor Actor, orderID uuid.UUID, reference string) (*models.Order, error) {
	order, err := s.loadVisible(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Role != enums.ActorRoleAdmin && order.CustomerID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer")
	}
	if order.PaymentStatus.IsSettled() {
		return order, nil
	}
	if order.OrderStatus == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is cancelled")
	}

	ref := strings.TrimSpace(reference)
	if ref == "" && order.PaymentReference != nil {
		ref = *order.PaymentReference
	}
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}

	adapter, err := s.gateways.Resolve(order.PaymentMethod)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	result, err := gateway.VerifyWithRetry(ctx, adapter, ref, s.verify)
	if err != nil {
		return nil, err
	}
	if problem := PaymentProblem(order, result); problem != "" {
		if _, markErr := s.repo.MarkFailed(ctx, order.ID); markErr != nil {
			s.logg.Error(ctx, "orders.mark_failed", markErr)
		}
		s.logg.Warn(ctx, "payment.verify_rejected "+problem)
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "payment not successful").
			WithDetails(map[string]any{"status": result.Status, "reason": problem})
	}

	return s.finalizer.FinalizeOrder(ctx, order.ID, ref)
}

// PaymentProblem explains why a verify result cannot settle the order, or
// returns "" when it can.
func PaymentProblem(order *models.Order, result *gateway.VerifyResult) string {
	switch {
	case result == nil || !result.Success:
		return "provider reports payment not successful"
	case result.Amount.LessThan(order.Total):
		return fmt.Sprintf("paid amount %s is below order total %s", result.Amount.StringFixed(2), order.Total.StringFixed(2))
	case result.Currency != "" && !strings.EqualFold(result.Currency, order.Currency):
		return fmt.Sprintf("paid currency %s does not match %s", result.Currency, order.Currency)
	default:
		return ""
	}
}

// Get returns an order the actor may see.
func (s *Service) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	return s.loadVisible(ctx, actor, orderID)
}

func (s *Service) loadVisible(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	switch actor.Role {
	case enums.ActorRoleAdmin:
	case enums.ActorRoleVendor:
		if !order.HasVendor(actor.UserID) && order.CustomerID != actor.UserID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not accessible")
		}
	default:
		if order.CustomerID != actor.UserID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not accessible")
		}
	}
	return order, nil
}

// ListParams filters an order listing.
type ListParams struct {
	pagination.Params
	PaymentStatus *enums.PaymentStatus
	OrderStatus   *enums.OrderStatus
}

// List scopes by role: customers see their orders, vendors the orders that
// carry their items, admins everything.
func (s *Service) List(ctx context.Context, actor Actor, params ListParams) (*ListResult, error) {
	filter := ListFilter{PaymentStatus: params.PaymentStatus, OrderStatus: params.OrderStatus}
	switch actor.Role {
	case enums.ActorRoleAdmin:
	case enums.ActorRoleVendor:
		filter.VendorID = &actor.UserID
	default:
		filter.CustomerID = &actor.UserID
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filter, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(r models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	return &ListResult{Items: rows, Cursor: next}, nil
}

// Cancel deletes the customer's own order while it is unpaid and pending.
func (s *Service) Cancel(ctx context.Context, customerID, orderID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.CustomerID != customerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer")
		}
		rows, err := repo.DeleteUnpaid(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete order")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only unpaid pending orders can be cancelled")
		}
		return nil
	})
}

// UpdateStatus moves an order along the fulfillment state machine.
func (s *Service) UpdateStatus(ctx context.Context, orderID uuid.UUID, next enums.OrderStatus) (*models.Order, error) {
	if !next.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if !order.OrderStatus.CanTransitionTo(next) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move order from %s to %s", order.OrderStatus, next))
		}
		if next == enums.OrderStatusCancelled && order.PaymentStatus.IsSettled() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "paid orders are cancelled through a refund")
		}
		rows, err := repo.TransitionStatus(ctx, orderID, order.OrderStatus, next, s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
		}
		updated, err = repo.FindByID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		return nil
	})
	return updated, err
}
