package types

import "strings"

// BankDetails is the settlement account a payout is sent to.
type BankDetails struct {
	AccountName   string `json:"accountName" validate:"required"`
	AccountNumber string `json:"accountNumber" validate:"required,numeric,min=6,max=20"`
	BankName      string `json:"bankName" validate:"required"`
	BankCode      string `json:"bankCode,omitempty"`
}

// IsZero reports whether no account has been captured.
func (b *BankDetails) IsZero() bool {
	return b == nil || strings.TrimSpace(b.AccountNumber) == ""
}

// Masked returns a copy safe to echo back in logs and events.
func (b BankDetails) Masked() BankDetails {
	n := len(b.AccountNumber)
	if n > 4 {
		b.AccountNumber = strings.Repeat("*", n-4) + b.AccountNumber[n-4:]
	}
	return b
}
