package webhooks

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/paystack"
)

const paystackChargeSuccess = `{
  "event": "charge.success",
  "data": {
    "id": 302961,
    "status": "success",
    "reference": "ORD-abc",
    "amount": 1225000,
    "currency": "NGN",
    "metadata": {"orderId": "0b7ad8a4-5d11-4d6e-9c38-4a4f3fb1d9a2"}
  }
}`

func TestParsePaystackChargeSuccess(t *testing.T) {
	payload := []byte(paystackChargeSuccess)
	delivery, err := ParsePaystack(payload, paystack.Sign(payload, "sk_test"), "sk_test")
	require.NoError(t, err)

	assert.Equal(t, "charge.success:302961", delivery.EventID)
	require.NotNil(t, delivery.Payment)
	assert.True(t, delivery.Payment.Success)
	assert.Equal(t, "ORD-abc", delivery.Payment.Reference)
	assert.True(t, delivery.Payment.Amount.Equal(decimal.NewFromInt(12250)))
	assert.Equal(t, "0b7ad8a4-5d11-4d6e-9c38-4a4f3fb1d9a2", delivery.Payment.OrderID)
}

func TestParsePaystackRejectsBadSignature(t *testing.T) {
	payload := []byte(paystackChargeSuccess)
	_, err := ParsePaystack(payload, paystack.Sign(payload, "other"), "sk_test")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))

	_, err = ParsePaystack(payload, "", "sk_test")
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
}

func TestParsePaystackOtherEventsCarryNoPayment(t *testing.T) {
	payload := []byte(`{"event":"transfer.success","data":{"id":9,"reference":"TRF-1"}}`)
	delivery, err := ParsePaystack(payload, paystack.Sign(payload, "sk_test"), "sk_test")
	require.NoError(t, err)
	assert.Nil(t, delivery.Payment)
	assert.Equal(t, "transfer.success:9", delivery.EventID)
}

func TestParseFlutterwaveChargeCompleted(t *testing.T) {
	payload := []byte(`{
	  "event": "charge.completed",
	  "data": {"id": 4471, "tx_ref": "ORD-xyz", "status": "successful", "amount": 12250, "currency": "NGN"},
	  "meta_data": {"orderId": "0b7ad8a4-5d11-4d6e-9c38-4a4f3fb1d9a2"}
	}`)
	delivery, err := ParseFlutterwave(payload, "hash-1", "hash-1")
	require.NoError(t, err)

	assert.Equal(t, "charge.completed:4471", delivery.EventID)
	require.NotNil(t, delivery.Payment)
	assert.True(t, delivery.Payment.Success)
	assert.Equal(t, "ORD-xyz", delivery.Payment.Reference)
	assert.Equal(t, "0b7ad8a4-5d11-4d6e-9c38-4a4f3fb1d9a2", delivery.Payment.OrderID)
}

func TestParseFlutterwaveFailedChargeIsNotSuccess(t *testing.T) {
	payload := []byte(`{"event":"charge.completed","data":{"id":5,"tx_ref":"ORD-1","status":"failed","amount":100,"currency":"NGN"}}`)
	delivery, err := ParseFlutterwave(payload, "hash-1", "hash-1")
	require.NoError(t, err)
	require.NotNil(t, delivery.Payment)
	assert.False(t, delivery.Payment.Success)
}

func TestParseFlutterwaveRejectsHashMismatch(t *testing.T) {
	_, err := ParseFlutterwave([]byte(`{}`), "wrong", "hash-1")
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))

	_, err = ParseFlutterwave([]byte(`{}`), "anything", "")
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
}
