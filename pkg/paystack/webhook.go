package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

const (
	// SignatureHeader carries the hex HMAC-SHA512 of the raw request body.
	SignatureHeader = "x-paystack-signature"

	EventChargeSuccess = "charge.success"
)

// Event is the webhook envelope. Data reuses the verify transaction shape.
type Event struct {
	Event string      `json:"event"`
	Data  Transaction `json:"data"`
}

// ValidSignature reports whether header equals HMAC-SHA512(payload, secret).
func ValidSignature(payload []byte, secret, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(header)))
}

// Sign is used by tests and local tooling to produce a valid header.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
