package booking

import "strings"

// Flow distinguishes how a checkout intends to settle: a full up-front
// charge, a deposit (treated identically to full payment for promotion), or
// the legacy balance-authorization flow whose capture is a manual ops action.
type Flow string

const (
	FlowFullUpfront      Flow = "full_upfront"
	FlowDeposit          Flow = "deposit"
	FlowBalanceAuthorize Flow = "balance_authorize"
)

// ParseFlow maps the free-text flow tag from checkout metadata onto a closed
// variant. Unknown or missing tags default to deposit.
func ParseFlow(raw string) Flow {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(FlowFullUpfront):
		return FlowFullUpfront
	case string(FlowBalanceAuthorize):
		return FlowBalanceAuthorize
	default:
		return FlowDeposit
	}
}

// Promotable reports whether a successful payment in this flow should promote
// the booking to CONFIRMED.
func (f Flow) Promotable() bool {
	return f != FlowBalanceAuthorize
}
