package enums

import "fmt"

// LedgerEventType classifies a vendor balance movement.
type LedgerEventType string

const (
	LedgerEventSettlementCredit LedgerEventType = "settlement_credit"
	LedgerEventRefundDebit      LedgerEventType = "refund_debit"
	LedgerEventPayoutReserve    LedgerEventType = "payout_reserve"
	LedgerEventPayoutRelease    LedgerEventType = "payout_release"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventSettlementCredit,
	LedgerEventRefundDebit,
	LedgerEventPayoutReserve,
	LedgerEventPayoutRelease,
}

// IsValid reports whether the value is a known LedgerEventType.
func (l LedgerEventType) IsValid() bool {
	for _, candidate := range validLedgerEventTypes {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLedgerEventType converts raw input into a LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	for _, candidate := range validLedgerEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger event type %q", value)
}
