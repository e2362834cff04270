package enums

import (
	"fmt"
	"strings"
)

// LoyaltyTier is an owner's loyalty rank, ordered from lowest to highest.
type LoyaltyTier string

const (
	LoyaltyTierBronze   LoyaltyTier = "bronze"
	LoyaltyTierSilver   LoyaltyTier = "silver"
	LoyaltyTierGold     LoyaltyTier = "gold"
	LoyaltyTierPlatinum LoyaltyTier = "platinum"
)

// orderedLoyaltyTiers is ascending; Rank relies on the order.
var orderedLoyaltyTiers = []LoyaltyTier{
	LoyaltyTierBronze,
	LoyaltyTierSilver,
	LoyaltyTierGold,
	LoyaltyTierPlatinum,
}

func (t LoyaltyTier) String() string {
	return string(t)
}

func (t LoyaltyTier) IsValid() bool {
	return t.Rank() >= 0
}

// Rank returns the tier position (bronze = 0) or -1 for unknown values.
func (t LoyaltyTier) Rank() int {
	for i, candidate := range orderedLoyaltyTiers {
		if candidate == t {
			return i
		}
	}
	return -1
}

// AtLeast reports whether t ranks at or above min.
func (t LoyaltyTier) AtLeast(min LoyaltyTier) bool {
	return t.Rank() >= min.Rank()
}

func ParseLoyaltyTier(value string) (LoyaltyTier, error) {
	tier := LoyaltyTier(strings.ToLower(strings.TrimSpace(value)))
	if !tier.IsValid() {
		return "", fmt.Errorf("invalid loyalty tier %q", value)
	}
	return tier, nil
}
