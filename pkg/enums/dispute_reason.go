package enums

import "fmt"

// DisputeReason classifies why a customer opened a dispute.
type DisputeReason string

const (
	DisputeReasonItemNotReceived    DisputeReason = "item_not_received"
	DisputeReasonNotAsDescribed     DisputeReason = "item_not_as_described"
	DisputeReasonDamaged            DisputeReason = "damaged_item"
	DisputeReasonWrongItem          DisputeReason = "wrong_item"
	DisputeReasonUnauthorizedCharge DisputeReason = "unauthorized_charge"
	DisputeReasonOther              DisputeReason = "other"
)

var validDisputeReasons = []DisputeReason{
	DisputeReasonItemNotReceived,
	DisputeReasonNotAsDescribed,
	DisputeReasonDamaged,
	DisputeReasonWrongItem,
	DisputeReasonUnauthorizedCharge,
	DisputeReasonOther,
}

// String implements fmt.Stringer.
func (d DisputeReason) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DisputeReason.
func (d DisputeReason) IsValid() bool {
	for _, candidate := range validDisputeReasons {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisputeReason converts raw input into a DisputeReason.
func ParseDisputeReason(value string) (DisputeReason, error) {
	for _, candidate := range validDisputeReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute reason %q", value)
}
