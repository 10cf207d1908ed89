package domain

import (
	"fmt"
	"strings"
)

// Tier names a query pipeline.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierAgent    Tier = "agent"
	TierAdvanced Tier = "advanced"
)

// AllTiers lists tiers in increasing order of cost.
func AllTiers() []Tier {
	return []Tier{TierBasic, TierAgent, TierAdvanced}
}

// ParseTier maps a declared tier onto a Tier. An empty value means basic;
// anything unknown wraps ErrInvalidTier.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case "", TierBasic:
		return TierBasic, nil
	case TierAgent:
		return TierAgent, nil
	case TierAdvanced:
		return TierAdvanced, nil
	}
	return Tier(s), fmt.Errorf("%w: %s", ErrInvalidTier, s)
}
