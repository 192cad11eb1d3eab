package gateway

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	"github.com/angelmondragon/bazaar-backend/pkg/paystack"
)

type paystackAPI interface {
	InitializeTransaction(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystack.Transaction, error)
	Refund(ctx context.Context, reference string, amount *int64) (*paystack.RefundResult, error)
}

// PaystackAdapter speaks kobo to Paystack and major units to callers.
type PaystackAdapter struct {
	api paystackAPI
}

func NewPaystackAdapter(api paystackAPI) *PaystackAdapter {
	return &PaystackAdapter{api: api}
}

func (a *PaystackAdapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderPaystack
}

func (a *PaystackAdapter) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	metadata := map[string]any{"orderId": req.OrderID.String()}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	res, err := a.api.InitializeTransaction(ctx, paystack.InitializeRequest{
		Email:       req.Email,
		Amount:      paystack.ToMinor(req.Amount),
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}
	reference := res.Reference
	if reference == "" {
		reference = req.Reference
	}
	return &InitializeResult{Reference: reference, RedirectURL: res.AuthorizationURL}, nil
}

func (a *PaystackAdapter) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	tx, err := a.api.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	return PaystackResult(tx), nil
}

// PaystackResult maps a Paystack transaction, from verify or a webhook, to a
// VerifyResult in major units.
func PaystackResult(tx *paystack.Transaction) *VerifyResult {
	return &VerifyResult{
		Success:       tx.Status == "success",
		Status:        tx.Status,
		Reference:     tx.Reference,
		TransactionID: strconv.FormatInt(tx.ID, 10),
		Amount:        paystack.FromMinor(tx.Amount),
		Currency:      tx.Currency,
		PaidAt:        tx.PaidAt,
		OrderID:       tx.MetadataString("orderId"),
	}
}

func (a *PaystackAdapter) Refund(ctx context.Context, reference string, amount *decimal.Decimal) (*RefundResult, error) {
	var minor *int64
	if amount != nil {
		v := paystack.ToMinor(*amount)
		minor = &v
	}
	res, err := a.api.Refund(ctx, reference, minor)
	if err != nil {
		return nil, err
	}
	return &RefundResult{Reference: strconv.FormatInt(res.ID, 10), Status: res.Status}, nil
}
