package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/bazaar-backend/api/responses"
	internalwebhooks "github.com/angelmondragon/bazaar-backend/internal/webhooks"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/flutterwave"
	"github.com/angelmondragon/bazaar-backend/pkg/logger"
	"github.com/angelmondragon/bazaar-backend/pkg/paystack"
)

// maxPayloadBytes bounds provider callbacks; real ones are a few KB.
const maxPayloadBytes = 1 << 20

type DeliveryService interface {
	HandleDelivery(ctx context.Context, provider string, delivery *internalwebhooks.Delivery) (internalwebhooks.Outcome, error)
}

// ReplayGuard remembers which deliveries were already handled.
type ReplayGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type parseFunc func(payload []byte, r *http.Request) (*internalwebhooks.Delivery, error)

// PaystackWebhook handles Paystack charge callbacks signed with the secret key.
func PaystackWebhook(svc DeliveryService, secret string, guard ReplayGuard, logg *logger.Logger) http.HandlerFunc {
	return paymentWebhook(enums.PaymentProviderPaystack, svc, guard, logg, func(payload []byte, r *http.Request) (*internalwebhooks.Delivery, error) {
		return internalwebhooks.ParsePaystack(payload, r.Header.Get(paystack.SignatureHeader), secret)
	})
}

// FlutterwaveWebhook handles Flutterwave charge callbacks carrying the dashboard hash.
func FlutterwaveWebhook(svc DeliveryService, hash string, guard ReplayGuard, logg *logger.Logger) http.HandlerFunc {
	return paymentWebhook(enums.PaymentProviderFlutterwave, svc, guard, logg, func(payload []byte, r *http.Request) (*internalwebhooks.Delivery, error) {
		return internalwebhooks.ParseFlutterwave(payload, r.Header.Get(flutterwave.SignatureHeader), hash)
	})
}

func paymentWebhook(provider enums.PaymentProvider, svc DeliveryService, guard ReplayGuard, logg *logger.Logger, parse parseFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "replay guard unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		delivery, err := parse(payload, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		seen, err := guard.CheckAndMark(ctx, delivery.EventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check replay"))
			return
		}
		if seen {
			responses.WriteSuccess(w, map[string]string{"outcome": string(internalwebhooks.OutcomeDuplicate)})
			return
		}

		outcome, err := svc.HandleDelivery(ctx, provider.String(), delivery)
		if err != nil {
			// The provider retries only settle once the mark is gone.
			if delErr := guard.Delete(context.WithoutCancel(ctx), delivery.EventID); delErr != nil && logg != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{
					"provider": provider.String(),
					"event_id": delivery.EventID,
					"error":    delErr.Error(),
				}), "webhook.replay_release_failed")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"provider": provider.String(),
				"event_id": delivery.EventID,
				"outcome":  string(outcome),
			})
			logg.Info(ctx, "webhook.processed")
		}
		responses.WriteSuccess(w, map[string]string{"outcome": string(outcome)})
	}
}
