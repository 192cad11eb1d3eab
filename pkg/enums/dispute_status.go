package enums

import "fmt"

// DisputeStatus tracks a dispute through its review workflow.
type DisputeStatus string

const (
	DisputeStatusOpen                   DisputeStatus = "open"
	DisputeStatusVendorResponded        DisputeStatus = "vendor_responded"
	DisputeStatusCustomerActionRequired DisputeStatus = "customer_action_required"
	DisputeStatusUnderReview            DisputeStatus = "under_review"
	DisputeStatusResolved               DisputeStatus = "resolved"
	DisputeStatusCancelled              DisputeStatus = "cancelled"
)

var validDisputeStatuses = []DisputeStatus{
	DisputeStatusOpen,
	DisputeStatusVendorResponded,
	DisputeStatusCustomerActionRequired,
	DisputeStatusUnderReview,
	DisputeStatusResolved,
	DisputeStatusCancelled,
}

// String implements fmt.Stringer.
func (d DisputeStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DisputeStatus.
func (d DisputeStatus) IsValid() bool {
	for _, candidate := range validDisputeStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisputeStatus converts raw input into a DisputeStatus.
func ParseDisputeStatus(value string) (DisputeStatus, error) {
	for _, candidate := range validDisputeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute status %q", value)
}

// IsTerminal reports whether the dispute accepts no further transitions.
func (d DisputeStatus) IsTerminal() bool {
	return d == DisputeStatusResolved || d == DisputeStatusCancelled
}
