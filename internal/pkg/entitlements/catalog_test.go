package entitlements

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogOrdering(t *testing.T) {
	c := DefaultCatalog()
	all := c.All()
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Priority, all[i].Priority)
	}
	assert.Equal(t, TierFree, c.Lowest().ID)
}

func TestCatalogGetUnknown(t *testing.T) {
	_, err := DefaultCatalog().Get("platinum")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTier))
}

func TestNewCatalogRejectsDuplicatePriority(t *testing.T) {
	_, err := NewCatalog(
		Tier{ID: "a", Priority: 1},
		Tier{ID: "b", Priority: 1},
	)
	assert.Error(t, err)

	_, err = NewCatalog(
		Tier{ID: "a", Priority: 1},
		Tier{ID: "a", Priority: 2},
	)
	assert.Error(t, err)
}

func TestComparePriority(t *testing.T) {
	c := DefaultCatalog()
	tests := []struct {
		a, b TierID
		want Ordering
	}{
		{TierFree, TierSupporter, Less},
		{TierFoundingCreator, TierSupporter, Greater},
		{TierSupporter, TierSupporter, Equal},
		{TierLifetimeCreator, TierFree, Greater},
	}
	for _, tt := range tests {
		got, err := c.ComparePriority(tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s vs %s", tt.a, tt.b)
	}

	_, err := c.ComparePriority(TierFree, "nope")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestNextTier(t *testing.T) {
	c := DefaultCatalog()
	next, ok := c.Next(TierFree)
	require.True(t, ok)
	assert.Equal(t, TierSupporter, next.ID)

	_, ok = c.Next(TierLifetimeCreator)
	assert.False(t, ok)
}

func TestTierAllows(t *testing.T) {
	c := DefaultCatalog()
	free, _ := c.Get(TierFree)
	assert.True(t, free.Allows(ContentWorld))
	assert.False(t, free.Allows(ContentModel))
}

func TestParseTierID(t *testing.T) {
	assert.Equal(t, TierFoundingCreator, ParseTierID("  Founding_Creator "))
}
