package billing

import (
	"github.com/sitekeeper/sitekeeper/internal/config"
	"github.com/sitekeeper/sitekeeper/internal/domain/account"
)

// Subscription tiers
const (
	TierEssential = "essential"
	TierAdvanced  = "advanced"
	TierPremium   = "premium"
	TierSafetyNet = "safety-net"
)

// tierRanks orders the full-service tiers for upgrade validation. The
// safety-net tier sits outside the ordering; it is reachable only through the
// dedicated switch operation.
var tierRanks = map[string]int{
	TierEssential: 1,
	TierAdvanced:  2,
	TierPremium:   3,
}

// TierRank returns the ordering rank of a tier, or 0 for tiers outside the
// upgrade ordering.
func TierRank(tier string) int {
	return tierRanks[tier]
}

// ValidTier reports whether tier names a known subscription plan.
func ValidTier(tier string) bool {
	switch tier {
	case TierEssential, TierAdvanced, TierPremium, TierSafetyNet:
		return true
	}
	return false
}

// Catalog resolves tiers and billing cycles to billing-provider price
// references, and price references back to tiers for webhook reconciliation.
type Catalog struct {
	prices map[[2]string]string
	tiers  map[string]string
	cycles map[string]string
}

// NewCatalog builds a catalog from configured price references.
func NewCatalog(p config.PriceConfig) *Catalog {
	c := &Catalog{
		prices: make(map[[2]string]string),
		tiers:  make(map[string]string),
		cycles: make(map[string]string),
	}
	c.add(TierEssential, account.CycleMonthly, p.EssentialMonthly)
	c.add(TierEssential, account.CycleAnnual, p.EssentialAnnual)
	c.add(TierAdvanced, account.CycleMonthly, p.AdvancedMonthly)
	c.add(TierAdvanced, account.CycleAnnual, p.AdvancedAnnual)
	c.add(TierPremium, account.CycleMonthly, p.PremiumMonthly)
	c.add(TierPremium, account.CycleAnnual, p.PremiumAnnual)
	c.add(TierSafetyNet, account.CycleMonthly, p.SafetyNetMonthly)
	c.add(TierSafetyNet, account.CycleAnnual, p.SafetyNetAnnual)
	return c
}

func (c *Catalog) add(tier, cycle, priceID string) {
	if priceID == "" {
		return
	}
	c.prices[[2]string{tier, cycle}] = priceID
	c.tiers[priceID] = tier
	c.cycles[priceID] = cycle
}

// PriceID resolves a (tier, cycle) pair to a price reference.
func (c *Catalog) PriceID(tier, cycle string) (string, bool) {
	id, ok := c.prices[[2]string{tier, cycle}]
	return id, ok
}

// TierForPrice resolves a price reference back to its tier.
func (c *Catalog) TierForPrice(priceID string) (string, bool) {
	tier, ok := c.tiers[priceID]
	return tier, ok
}

// CycleForPrice resolves a price reference back to its billing cycle.
func (c *Catalog) CycleForPrice(priceID string) (string, bool) {
	cycle, ok := c.cycles[priceID]
	return cycle, ok
}

// MapStatus translates billing-provider subscription statuses into the
// internal status vocabulary. Unknown statuses map to inactive rather than
// failing reconciliation.
func MapStatus(providerStatus string) string {
	switch providerStatus {
	case "active", "trialing":
		return account.StatusActive
	case "canceled", "incomplete_expired":
		return account.StatusCanceled
	default: // past_due, unpaid, incomplete, paused
		return account.StatusInactive
	}
}
