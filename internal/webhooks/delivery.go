package webhooks

import (
	"encoding/json"
	"strconv"

	"github.com/angelmondragon/bazaar-backend/internal/gateway"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/flutterwave"
	"github.com/angelmondragon/bazaar-backend/pkg/paystack"
)

// Delivery is a verified provider callback reduced to what settlement needs.
type Delivery struct {
	EventID string
	Event   string
	// Payment is nil for event types that do not settle orders.
	Payment *gateway.VerifyResult
}

// ParsePaystack checks the HMAC header and decodes a Paystack callback.
func ParsePaystack(payload []byte, signature, secret string) (*Delivery, error) {
	if !paystack.ValidSignature(payload, secret, signature) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid paystack signature")
	}
	var event paystack.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid paystack payload")
	}
	delivery := &Delivery{Event: event.Event, EventID: event.Event + ":" + event.Data.Reference}
	if event.Data.ID != 0 {
		delivery.EventID = event.Event + ":" + strconv.FormatInt(event.Data.ID, 10)
	}
	if event.Event == paystack.EventChargeSuccess {
		delivery.Payment = gateway.PaystackResult(&event.Data)
	}
	return delivery, nil
}

// ParseFlutterwave checks the shared hash header and decodes a Flutterwave callback.
func ParseFlutterwave(payload []byte, signature, hash string) (*Delivery, error) {
	if !flutterwave.ValidSignature(hash, signature) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid flutterwave signature")
	}
	var event flutterwave.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid flutterwave payload")
	}
	delivery := &Delivery{Event: event.Event, EventID: event.Event + ":" + event.Data.TxRef}
	if event.Data.ID != 0 {
		delivery.EventID = event.Event + ":" + strconv.FormatInt(event.Data.ID, 10)
	}
	if event.Event == flutterwave.EventChargeCompleted {
		result := gateway.FlutterwaveResult(&event.Data)
		result.OrderID = event.OrderID()
		delivery.Payment = result
	}
	return delivery, nil
}
