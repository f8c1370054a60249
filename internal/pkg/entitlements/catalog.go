package entitlements

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// TierID identifies an entitlement level in the catalog.
type TierID string

const (
	TierFree            TierID = "free"
	TierSupporter       TierID = "supporter"
	TierFoundingCreator TierID = "founding_creator"
	TierLifetimeCreator TierID = "lifetime_creator"
)

// ContentType is a kind of content a tier may allow a user to create.
type ContentType string

const (
	ContentWorld ContentType = "world"
	ContentAsset ContentType = "asset"
	ContentModel ContentType = "model"
	ContentAudio ContentType = "audio"
)

const mib = int64(1024 * 1024)

// ErrUnknownTier is returned when a tier id is not part of the catalog.
var ErrUnknownTier = errors.New("unknown tier")

// Tier is an immutable catalog entry. Prices are in minor currency units.
type Tier struct {
	ID                  TierID
	Name                string
	PriceCents          int64
	ContentLimit        int
	AllowedContentTypes []ContentType
	MaxFileSize         int64
	Priority            int
	HasLifetimeAccess   bool
}

// Allows reports whether the tier permits creating content of the given type.
func (t Tier) Allows(ct ContentType) bool {
	return lo.Contains(t.AllowedContentTypes, ct)
}

// Ordering is the result of comparing two tiers by priority.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// Catalog is a read-only lookup table of tiers. It is safe for concurrent use.
type Catalog struct {
	tiers   map[TierID]Tier
	ordered []Tier
}

// NewCatalog builds a catalog from the given tiers. Tier ids and priorities must be unique.
func NewCatalog(tiers ...Tier) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, errors.New("catalog requires at least one tier")
	}
	byID := make(map[TierID]Tier, len(tiers))
	priorities := make(map[int]TierID, len(tiers))
	for _, t := range tiers {
		if t.ID == "" {
			return nil, errors.New("tier id is required")
		}
		if _, dup := byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tier id %q", t.ID)
		}
		if other, dup := priorities[t.Priority]; dup {
			return nil, fmt.Errorf("tiers %q and %q share priority %d", other, t.ID, t.Priority)
		}
		if t.ContentLimit < 0 || t.PriceCents < 0 {
			return nil, fmt.Errorf("tier %q has negative limits", t.ID)
		}
		byID[t.ID] = t
		priorities[t.Priority] = t.ID
	}

	ordered := lo.Values(byID)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	return &Catalog{tiers: byID, ordered: ordered}, nil
}

// DefaultCatalog returns the built-in tier table.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Tier{
			ID:                  TierFree,
			Name:                "Free",
			PriceCents:          0,
			ContentLimit:        3,
			AllowedContentTypes: []ContentType{ContentWorld},
			MaxFileSize:         10 * mib,
			Priority:            0,
		},
		Tier{
			ID:                  TierSupporter,
			Name:                "Supporter",
			PriceCents:          1000,
			ContentLimit:        25,
			AllowedContentTypes: []ContentType{ContentWorld, ContentAsset},
			MaxFileSize:         50 * mib,
			Priority:            10,
		},
		Tier{
			ID:                  TierFoundingCreator,
			Name:                "Founding Creator",
			PriceCents:          2500,
			ContentLimit:        100,
			AllowedContentTypes: []ContentType{ContentWorld, ContentAsset, ContentModel},
			MaxFileSize:         250 * mib,
			Priority:            20,
		},
		Tier{
			ID:                  TierLifetimeCreator,
			Name:                "Lifetime Creator",
			PriceCents:          14900,
			ContentLimit:        250,
			AllowedContentTypes: []ContentType{ContentWorld, ContentAsset, ContentModel, ContentAudio},
			MaxFileSize:         500 * mib,
			Priority:            30,
			HasLifetimeAccess:   true,
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the tier for id or ErrUnknownTier.
func (c *Catalog) Get(id TierID) (Tier, error) {
	t, ok := c.tiers[id]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %q", ErrUnknownTier, id)
	}
	return t, nil
}

// Has reports whether id is part of the catalog.
func (c *Catalog) Has(id TierID) bool {
	_, ok := c.tiers[id]
	return ok
}

// ComparePriority orders a relative to b.
func (c *Catalog) ComparePriority(a, b TierID) (Ordering, error) {
	ta, err := c.Get(a)
	if err != nil {
		return Equal, err
	}
	tb, err := c.Get(b)
	if err != nil {
		return Equal, err
	}
	switch {
	case ta.Priority < tb.Priority:
		return Less, nil
	case ta.Priority > tb.Priority:
		return Greater, nil
	default:
		return Equal, nil
	}
}

// Lowest returns the tier with the smallest priority (the free tier).
func (c *Catalog) Lowest() Tier {
	return c.ordered[0]
}

// All returns every tier ordered by ascending priority.
func (c *Catalog) All() []Tier {
	out := make([]Tier, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Next returns the tier directly above id, or false when id is the top tier.
func (c *Catalog) Next(id TierID) (Tier, bool) {
	for i, t := range c.ordered {
		if t.ID == id && i+1 < len(c.ordered) {
			return c.ordered[i+1], true
		}
	}
	return Tier{}, false
}

// ParseTierID normalizes user or provider supplied tier identifiers.
func ParseTierID(raw string) TierID {
	return TierID(strings.ToLower(strings.TrimSpace(raw)))
}
