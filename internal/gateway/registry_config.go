package gateway

import (
	"net/http"

	"github.com/angelmondragon/bazaar-backend/pkg/config"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	"github.com/angelmondragon/bazaar-backend/pkg/flutterwave"
	"github.com/angelmondragon/bazaar-backend/pkg/paystack"
)

// FromConfig builds a registry with every provider that has credentials.
func FromConfig(cfg *config.Config) (*Registry, error) {
	defaultProvider, err := enums.ParsePaymentProvider(cfg.Gateway.DefaultProvider)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: cfg.Gateway.HTTPTimeout}

	var adapters []Adapter
	if cfg.Paystack.Enabled() {
		client, err := paystack.NewClient(cfg.Paystack.SecretKey, paystack.WithBaseURL(cfg.Paystack.BaseURL), paystack.WithHTTPClient(httpClient))
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, NewPaystackAdapter(client))
	}
	if cfg.Flutterwave.Enabled() {
		client, err := flutterwave.NewClient(cfg.Flutterwave.SecretKey,
			flutterwave.WithBaseURL(cfg.Flutterwave.BaseURL),
			flutterwave.WithHTTPClient(httpClient),
			flutterwave.WithWebhookHash(cfg.Flutterwave.WebhookHash),
		)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, NewFlutterwaveAdapter(client))
	}
	return NewRegistry(defaultProvider, adapters...)
}
