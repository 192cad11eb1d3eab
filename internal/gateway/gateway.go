package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
)

// InitializeRequest starts a hosted payment for an order. Amount is in major units.
type InitializeRequest struct {
	Email       string
	Amount      decimal.Decimal
	Currency    string
	OrderID     uuid.UUID
	Reference   string
	CallbackURL string
	Metadata    map[string]any
}

type InitializeResult struct {
	Reference   string
	RedirectURL string
}

// VerifyResult is the provider's view of a transaction. Success is true only
// when the provider reports the charge as captured.
type VerifyResult struct {
	Success       bool
	Status        string
	Reference     string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	PaidAt        *time.Time
	OrderID       string
}

type RefundResult struct {
	Reference string
	Status    string
}

// Adapter is the provider-agnostic contract. Verify is read-only and may be
// retried; Refund is not idempotent at the provider and must not be retried
// on an ambiguous failure.
type Adapter interface {
	Provider() enums.PaymentProvider
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
	Refund(ctx context.Context, reference string, amount *decimal.Decimal) (*RefundResult, error)
}

// Registry resolves adapters by provider.
type Registry struct {
	adapters        map[enums.PaymentProvider]Adapter
	defaultProvider enums.PaymentProvider
}

// NewRegistry builds a registry; the default provider must be registered.
func NewRegistry(defaultProvider enums.PaymentProvider, adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[enums.PaymentProvider]Adapter, len(adapters)), defaultProvider: defaultProvider}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		r.adapters[a.Provider()] = a
	}
	if len(r.adapters) == 0 {
		return nil, fmt.Errorf("at least one payment gateway must be configured")
	}
	if _, ok := r.adapters[defaultProvider]; !ok {
		return nil, fmt.Errorf("default payment provider %q is not configured", defaultProvider)
	}
	return r, nil
}

// Resolve returns the adapter for provider, falling back to the default when
// provider is empty.
func (r *Registry) Resolve(provider enums.PaymentProvider) (Adapter, error) {
	if r == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateways not configured")
	}
	if provider == "" {
		provider = r.defaultProvider
	}
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment method %q is not available", provider))
	}
	return adapter, nil
}

// Default returns the default provider.
func (r *Registry) Default() enums.PaymentProvider {
	return r.defaultProvider
}

// NewReference mints a per-attempt reference, ORD-{orderId}-{unix}.
func NewReference(orderID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("ORD-%s-%d", orderID, now.Unix())
}

// OrderIDFromReference recovers the order id from a reference minted by NewReference.
func OrderIDFromReference(reference string) (uuid.UUID, bool) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(reference), "ORD-")
	if trimmed == reference || len(trimmed) < 36 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(trimmed[:36])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
