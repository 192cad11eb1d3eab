package enums

// RefundStatus records whether local effects of a provider refund were applied.
type RefundStatus string

const (
	RefundStatusSucceeded              RefundStatus = "succeeded"
	RefundStatusReconciliationRequired RefundStatus = "reconciliation_required"
)

var validRefundStatuses = []RefundStatus{
	RefundStatusSucceeded,
	RefundStatusReconciliationRequired,
}

// String implements fmt.Stringer.
func (r RefundStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundStatus.
func (r RefundStatus) IsValid() bool {
	for _, candidate := range validRefundStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}
