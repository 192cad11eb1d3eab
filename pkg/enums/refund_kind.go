package enums

import "fmt"

// RefundKind distinguishes full and partial refunds.
type RefundKind string

const (
	RefundKindFull    RefundKind = "full"
	RefundKindPartial RefundKind = "partial"
)

var validRefundKinds = []RefundKind{
	RefundKindFull,
	RefundKindPartial,
}

// String implements fmt.Stringer.
func (r RefundKind) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundKind.
func (r RefundKind) IsValid() bool {
	for _, candidate := range validRefundKinds {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRefundKind converts raw input into a RefundKind.
func ParseRefundKind(value string) (RefundKind, error) {
	for _, candidate := range validRefundKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund kind %q", value)
}
