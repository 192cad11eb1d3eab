package gateway

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	"github.com/angelmondragon/bazaar-backend/pkg/flutterwave"
)

type flutterwaveAPI interface {
	CreatePayment(ctx context.Context, req flutterwave.PaymentRequest) (*flutterwave.PaymentLink, error)
	VerifyByReference(ctx context.Context, txRef string) (*flutterwave.Transaction, error)
	Refund(ctx context.Context, transactionID int64, amount *decimal.Decimal) (*flutterwave.RefundResult, error)
}

// FlutterwaveAdapter keys everything on tx_ref; refunds resolve the
// provider transaction id first.
type FlutterwaveAdapter struct {
	api flutterwaveAPI
}

func NewFlutterwaveAdapter(api flutterwaveAPI) *FlutterwaveAdapter {
	return &FlutterwaveAdapter{api: api}
}

func (a *FlutterwaveAdapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderFlutterwave
}

func (a *FlutterwaveAdapter) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	meta := map[string]any{"orderId": req.OrderID.String()}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	link, err := a.api.CreatePayment(ctx, flutterwave.PaymentRequest{
		TxRef:       req.Reference,
		Amount:      flutterwave.Amount(req.Amount),
		Currency:    req.Currency,
		RedirectURL: req.CallbackURL,
		Customer:    flutterwave.Customer{Email: req.Email},
		Meta:        meta,
	})
	if err != nil {
		return nil, err
	}
	return &InitializeResult{Reference: req.Reference, RedirectURL: link.Link}, nil
}

func (a *FlutterwaveAdapter) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	tx, err := a.api.VerifyByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return FlutterwaveResult(tx), nil
}

// FlutterwaveResult maps a Flutterwave transaction, from verify or a webhook,
// to a VerifyResult.
func FlutterwaveResult(tx *flutterwave.Transaction) *VerifyResult {
	return &VerifyResult{
		Success:       tx.Status == flutterwave.StatusSuccessful,
		Status:        tx.Status,
		Reference:     tx.TxRef,
		TransactionID: strconv.FormatInt(tx.ID, 10),
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		PaidAt:        tx.CreatedAt,
		OrderID:       tx.MetaString("orderId"),
	}
}

// Refund performs a read-only lookup before the single refund call; the
// refund itself is never retried.
func (a *FlutterwaveAdapter) Refund(ctx context.Context, reference string, amount *decimal.Decimal) (*RefundResult, error) {
	tx, err := a.api.VerifyByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	res, err := a.api.Refund(ctx, tx.ID, amount)
	if err != nil {
		return nil, err
	}
	return &RefundResult{Reference: strconv.FormatInt(res.ID, 10), Status: res.Status}, nil
}
