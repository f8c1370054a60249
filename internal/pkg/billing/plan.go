package billing

import (
	"fmt"
	"strings"

	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
	"github.com/ManuelReschke/Entitled/internal/pkg/env"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

// PlanMap resolves provider product and price references to catalog tiers.
type PlanMap struct {
	catalog *entitlements.Catalog
	refs    map[subscription.Provider]map[string]entitlements.TierID
}

// NewPlanMap returns an empty map bound to catalog.
func NewPlanMap(catalog *entitlements.Catalog) *PlanMap {
	return &PlanMap{
		catalog: catalog,
		refs:    make(map[subscription.Provider]map[string]entitlements.TierID),
	}
}

// NewPlanMapFromEnv loads STRIPE_PRICE_MAP and GUMROAD_PRODUCT_MAP.
// Both use the form "ref=tier,ref=tier".
func NewPlanMapFromEnv(catalog *entitlements.Catalog) (*PlanMap, error) {
	pm := NewPlanMap(catalog)
	if err := pm.AddSpec(subscription.ProviderStripe, env.GetEnv("STRIPE_PRICE_MAP", "")); err != nil {
		return nil, fmt.Errorf("STRIPE_PRICE_MAP: %w", err)
	}
	if err := pm.AddSpec(subscription.ProviderGumroad, env.GetEnv("GUMROAD_PRODUCT_MAP", "")); err != nil {
		return nil, fmt.Errorf("GUMROAD_PRODUCT_MAP: %w", err)
	}
	return pm, nil
}

// Add maps ref to tier for provider.
func (p *PlanMap) Add(provider subscription.Provider, ref string, tier entitlements.TierID) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fmt.Errorf("empty product reference for tier %s", tier)
	}
	if !p.catalog.Has(tier) {
		return fmt.Errorf("%w: %s", entitlements.ErrUnknownTier, tier)
	}
	if p.refs[provider] == nil {
		p.refs[provider] = make(map[string]entitlements.TierID)
	}
	p.refs[provider][ref] = tier
	return nil
}

// AddSpec parses a comma separated "ref=tier" list.
func (p *PlanMap) AddSpec(provider subscription.Provider, spec string) error {
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		ref, rawTier, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid mapping %q, want ref=tier", pair)
		}
		if err := p.Add(provider, ref, entitlements.ParseTierID(rawTier)); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of references configured for provider.
func (p *PlanMap) Len(provider subscription.Provider) int {
	return len(p.refs[provider])
}

// Resolve picks the highest priority tier mapped by any of refs and returns it with the
// winning reference. It fails with a MappingError when none of refs is mapped.
func (p *PlanMap) Resolve(provider subscription.Provider, refs ...string) (entitlements.TierID, string, error) {
	var (
		best     entitlements.TierID
		bestRef  string
		bestRank = -1
	)
	seen := make(map[string]struct{}, len(refs))
	candidates := make([]string, 0, len(refs))
	for _, raw := range refs {
		ref := strings.TrimSpace(raw)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		candidates = append(candidates, ref)

		tierID, ok := p.refs[provider][ref]
		if !ok {
			continue
		}
		tier, err := p.catalog.Get(tierID)
		if err != nil {
			return "", "", err
		}
		if tier.Priority > bestRank {
			best, bestRef, bestRank = tier.ID, ref, tier.Priority
		}
	}
	if bestRank < 0 {
		return "", "", &MappingError{Provider: string(provider), Refs: candidates}
	}
	return best, bestRef, nil
}
