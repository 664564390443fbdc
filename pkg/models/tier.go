package models

// Tier represents the model tier a task executes on.
type Tier string

const (
	// TierHeavy is the expensive, high-capability tier.
	TierHeavy Tier = "heavy"
	// TierStandard is the default cost-efficient tier.
	TierStandard Tier = "standard"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierHeavy, TierStandard:
		return true
	default:
		return false
	}
}

// OrStandard returns the tier itself when valid, TierStandard otherwise.
// Used when a request carries an empty or unrecognized tier hint.
func (t Tier) OrStandard() Tier {
	if t.Valid() {
		return t
	}
	return TierStandard
}
