package enums

import "fmt"

// DisputeAction is the admin decision recorded when a dispute is resolved.
type DisputeAction string

const (
	DisputeActionNone          DisputeAction = "none"
	DisputeActionFullRefund    DisputeAction = "full_refund"
	DisputeActionPartialRefund DisputeAction = "partial_refund"
	DisputeActionDenyClaim     DisputeAction = "deny_claim"
	DisputeActionReplacement   DisputeAction = "replacement"
)

var validDisputeActions = []DisputeAction{
	DisputeActionNone,
	DisputeActionFullRefund,
	DisputeActionPartialRefund,
	DisputeActionDenyClaim,
	DisputeActionReplacement,
}

// String implements fmt.Stringer.
func (d DisputeAction) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DisputeAction.
func (d DisputeAction) IsValid() bool {
	for _, candidate := range validDisputeActions {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisputeAction converts raw input into a DisputeAction.
func ParseDisputeAction(value string) (DisputeAction, error) {
	for _, candidate := range validDisputeActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute action %q", value)
}

// MovesMoney reports whether resolving with this action issues a refund.
func (d DisputeAction) MovesMoney() bool {
	return d == DisputeActionFullRefund || d == DisputeActionPartialRefund
}
