package loyalty

import (
	"github.com/shopspring/decimal"

	"github.com/vetcare/clinic-finance/pkg/enums"
)

type threshold struct {
	tier   enums.LoyaltyTier
	points int64
	bonus  decimal.Decimal
}

// thresholds is ascending by points.
var thresholds = []threshold{
	{tier: enums.LoyaltyTierBronze, points: 0, bonus: decimal.Zero},
	{tier: enums.LoyaltyTierSilver, points: 500, bonus: decimal.NewFromInt(50)},
	{tier: enums.LoyaltyTierGold, points: 2000, bonus: decimal.NewFromInt(100)},
	{tier: enums.LoyaltyTierPlatinum, points: 5000, bonus: decimal.NewFromInt(250)},
}

// TierForPoints returns the highest tier whose threshold points reaches.
func TierForPoints(points int64) enums.LoyaltyTier {
	tier := enums.LoyaltyTierBronze
	for _, th := range thresholds {
		if points >= th.points {
			tier = th.tier
		}
	}
	return tier
}

// BonusFor is the fixed coupon value granted on reaching tier.
func BonusFor(tier enums.LoyaltyTier) decimal.Decimal {
	for _, th := range thresholds {
		if th.tier == tier {
			return th.bonus
		}
	}
	return decimal.Zero
}
