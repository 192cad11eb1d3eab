package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/flutterwave"
	"github.com/angelmondragon/bazaar-backend/pkg/paystack"
)

type stubPaystack struct {
	initReq      paystack.InitializeRequest
	refundAmount *int64
	tx           *paystack.Transaction
}

func (s *stubPaystack) InitializeTransaction(_ context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error) {
	s.initReq = req
	return &paystack.InitializeResult{AuthorizationURL: "https://pay.test/x", Reference: req.Reference}, nil
}

func (s *stubPaystack) VerifyTransaction(context.Context, string) (*paystack.Transaction, error) {
	return s.tx, nil
}

func (s *stubPaystack) Refund(_ context.Context, _ string, amount *int64) (*paystack.RefundResult, error) {
	s.refundAmount = amount
	return &paystack.RefundResult{ID: 77, Status: "pending"}, nil
}

type stubFlutterwave struct {
	refundedID int64
	lookups    int
}

func (s *stubFlutterwave) CreatePayment(_ context.Context, req flutterwave.PaymentRequest) (*flutterwave.PaymentLink, error) {
	return &flutterwave.PaymentLink{Link: "https://flw.test/" + req.TxRef}, nil
}

func (s *stubFlutterwave) VerifyByReference(_ context.Context, txRef string) (*flutterwave.Transaction, error) {
	s.lookups++
	return &flutterwave.Transaction{ID: 4412, TxRef: txRef, Status: "successful", Amount: decimal.NewFromInt(500)}, nil
}

func (s *stubFlutterwave) Refund(_ context.Context, id int64, _ *decimal.Decimal) (*flutterwave.RefundResult, error) {
	s.refundedID = id
	return &flutterwave.RefundResult{ID: 9, Status: "completed"}, nil
}

func TestNewReferenceRoundTrip(t *testing.T) {
	orderID := uuid.New()
	now := time.Unix(1700000000, 0)

	ref := NewReference(orderID, now)
	assert.Equal(t, "ORD-"+orderID.String()+"-1700000000", ref)

	parsed, ok := OrderIDFromReference(ref)
	require.True(t, ok)
	assert.Equal(t, orderID, parsed)

	_, ok = OrderIDFromReference("T123456")
	assert.False(t, ok)
}

func TestRegistryResolve(t *testing.T) {
	ps := NewPaystackAdapter(&stubPaystack{})
	reg, err := NewRegistry(enums.PaymentProviderPaystack, ps)
	require.NoError(t, err)

	adapter, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentProviderPaystack, adapter.Provider())

	_, err = reg.Resolve(enums.PaymentProviderFlutterwave)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = NewRegistry(enums.PaymentProviderFlutterwave, ps)
	assert.Error(t, err)
	_, err = NewRegistry(enums.PaymentProviderPaystack)
	assert.Error(t, err)
}

func TestPaystackAdapterConvertsUnits(t *testing.T) {
	paidAt := time.Now()
	stub := &stubPaystack{tx: &paystack.Transaction{ID: 3, Status: "success", Reference: "r", Amount: 1225000, PaidAt: &paidAt, Metadata: []byte(`{"orderId":"abc"}`)}}
	adapter := NewPaystackAdapter(stub)
	orderID := uuid.New()

	res, err := adapter.Initialize(context.Background(), InitializeRequest{Email: "a@b.c", Amount: decimal.NewFromInt(12250), OrderID: orderID, Reference: "r"})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/x", res.RedirectURL)
	assert.EqualValues(t, 1225000, stub.initReq.Amount)
	assert.Equal(t, orderID.String(), stub.initReq.Metadata["orderId"])

	verified, err := adapter.Verify(context.Background(), "r")
	require.NoError(t, err)
	assert.True(t, verified.Success)
	assert.True(t, verified.Amount.Equal(decimal.NewFromInt(12250)))
	assert.Equal(t, "abc", verified.OrderID)

	amount := decimal.NewFromInt(1000)
	refund, err := adapter.Refund(context.Background(), "r", &amount)
	require.NoError(t, err)
	assert.Equal(t, "77", refund.Reference)
	require.NotNil(t, stub.refundAmount)
	assert.EqualValues(t, 100000, *stub.refundAmount)

	_, err = adapter.Refund(context.Background(), "r", nil)
	require.NoError(t, err)
	assert.Nil(t, stub.refundAmount)
}

func TestFlutterwaveAdapterRefundLooksUpTransaction(t *testing.T) {
	stub := &stubFlutterwave{}
	adapter := NewFlutterwaveAdapter(stub)

	res, err := adapter.Initialize(context.Background(), InitializeRequest{Email: "a@b.c", Amount: decimal.NewFromInt(10), OrderID: uuid.New(), Reference: "ORD-x-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://flw.test/ORD-x-1", res.RedirectURL)
	assert.Equal(t, "ORD-x-1", res.Reference)

	refund, err := adapter.Refund(context.Background(), "ORD-x-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "9", refund.Reference)
	assert.EqualValues(t, 4412, stub.refundedID)
	assert.Equal(t, 1, stub.lookups)
}

type flakyAdapter struct {
	PaystackAdapter
	calls   int
	failFor int
	err     error
}

func (f *flakyAdapter) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	f.calls++
	if f.calls <= f.failFor {
		return nil, f.err
	}
	return &VerifyResult{Success: true, Reference: reference}, nil
}

func TestVerifyWithRetryRecoversFromGatewayErrors(t *testing.T) {
	adapter := &flakyAdapter{failFor: 2, err: pkgerrors.New(pkgerrors.CodeGateway, "502 from provider")}

	res, err := VerifyWithRetry(context.Background(), adapter, "ref", VerifyPolicy{Timeout: 5 * time.Second, Attempts: 3})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, adapter.calls)
}

func TestVerifyWithRetryStopsOnValidationAndExhaustion(t *testing.T) {
	invalid := &flakyAdapter{failFor: 5, err: pkgerrors.New(pkgerrors.CodeValidation, "reference is required")}
	_, err := VerifyWithRetry(context.Background(), invalid, "", VerifyPolicy{Attempts: 3})
	require.Error(t, err)
	assert.Equal(t, 1, invalid.calls)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	down := &flakyAdapter{failFor: 5, err: pkgerrors.New(pkgerrors.CodeGateway, "timeout")}
	_, err = VerifyWithRetry(context.Background(), down, "ref", VerifyPolicy{Timeout: 5 * time.Second, Attempts: 2})
	require.Error(t, err)
	assert.Equal(t, 2, down.calls)
	assert.Equal(t, pkgerrors.CodeGateway, pkgerrors.CodeOf(err))
}
