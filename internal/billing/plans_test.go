package billing

import (
	"testing"

	"github.com/sitekeeper/sitekeeper/internal/config"
	"github.com/sitekeeper/sitekeeper/internal/domain/account"
)

func testPrices() config.PriceConfig {
	return config.PriceConfig{
		EssentialMonthly: "price_ess_m",
		EssentialAnnual:  "price_ess_a",
		AdvancedMonthly:  "price_adv_m",
		AdvancedAnnual:   "price_adv_a",
		PremiumMonthly:   "price_pre_m",
		PremiumAnnual:    "price_pre_a",
		SafetyNetMonthly: "price_sn_m",
		SafetyNetAnnual:  "price_sn_a",
	}
}

func TestCatalogPriceID(t *testing.T) {
	c := NewCatalog(testPrices())

	tests := []struct {
		name  string
		tier  string
		cycle string
		want  string
		ok    bool
	}{
		{"essential monthly", TierEssential, account.CycleMonthly, "price_ess_m", true},
		{"premium annual", TierPremium, account.CycleAnnual, "price_pre_a", true},
		{"safety-net monthly", TierSafetyNet, account.CycleMonthly, "price_sn_m", true},
		{"unknown tier", "platinum", account.CycleMonthly, "", false},
		{"unknown cycle", TierEssential, "weekly", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.PriceID(tt.tier, tt.cycle)
			if ok != tt.ok || got != tt.want {
				t.Errorf("PriceID(%q, %q) = (%q, %v), want (%q, %v)", tt.tier, tt.cycle, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCatalogReverseLookup(t *testing.T) {
	c := NewCatalog(testPrices())

	tier, ok := c.TierForPrice("price_adv_a")
	if !ok || tier != TierAdvanced {
		t.Errorf("TierForPrice(price_adv_a) = (%q, %v), want (advanced, true)", tier, ok)
	}
	cycle, ok := c.CycleForPrice("price_adv_a")
	if !ok || cycle != account.CycleAnnual {
		t.Errorf("CycleForPrice(price_adv_a) = (%q, %v), want (annual, true)", cycle, ok)
	}
	if _, ok := c.TierForPrice("price_unknown"); ok {
		t.Error("expected lookup miss for unknown price")
	}
}

func TestCatalogSkipsEmptyPrices(t *testing.T) {
	p := testPrices()
	p.PremiumAnnual = ""
	c := NewCatalog(p)

	if _, ok := c.PriceID(TierPremium, account.CycleAnnual); ok {
		t.Error("expected no price for unconfigured tier/cycle pair")
	}
	if _, ok := c.PriceID(TierPremium, account.CycleMonthly); !ok {
		t.Error("expected configured pair to remain resolvable")
	}
}

func TestTierRank(t *testing.T) {
	if TierRank(TierEssential) >= TierRank(TierAdvanced) {
		t.Error("essential should rank below advanced")
	}
	if TierRank(TierAdvanced) >= TierRank(TierPremium) {
		t.Error("advanced should rank below premium")
	}
	if TierRank(TierSafetyNet) != 0 {
		t.Error("safety-net should sit outside the upgrade ordering")
	}
	if TierRank("bogus") != 0 {
		t.Error("unknown tiers should rank 0")
	}
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"active", account.StatusActive},
		{"trialing", account.StatusActive},
		{"canceled", account.StatusCanceled},
		{"incomplete_expired", account.StatusCanceled},
		{"past_due", account.StatusInactive},
		{"unpaid", account.StatusInactive},
		{"paused", account.StatusInactive},
		{"something_new", account.StatusInactive},
	}

	for _, tt := range tests {
		if got := MapStatus(tt.in); got != tt.want {
			t.Errorf("MapStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
