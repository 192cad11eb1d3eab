package flutterwave

import (
	"crypto/subtle"
	"strings"
)

const (
	// SignatureHeader carries the static secret hash configured on the dashboard.
	SignatureHeader = "verif-hash"

	EventChargeCompleted = "charge.completed"
	StatusSuccessful     = "successful"
)

// Event is the webhook envelope. Older payloads put meta at the top level.
type Event struct {
	Event string         `json:"event"`
	Data  Transaction    `json:"data"`
	Meta  map[string]any `json:"meta_data"`
}

// OrderID extracts meta.orderId from the transaction or the envelope.
func (e Event) OrderID() string {
	if id := e.Data.MetaString("orderId"); id != "" {
		return id
	}
	if v, ok := e.Meta["orderId"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// ValidSignature reports whether header equals the pre-shared hash.
func ValidSignature(expected, header string) bool {
	header = strings.TrimSpace(header)
	if expected == "" || header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(header)) == 1
}
