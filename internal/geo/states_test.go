package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTable(t *testing.T) {
	t.Parallel()

	assert.Len(t, states, 51)
	abbrs := make(map[string]bool)
	for _, s := range states {
		assert.False(t, abbrs[s.Abbr], "duplicate %s", s.Abbr)
		abbrs[s.Abbr] = true
		assert.True(t, s.Lat > 18 && s.Lat < 72, s.Name)
		assert.True(t, s.Lng > -170 && s.Lng < -66, s.Name)
	}
}

func TestLookupState(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"Texas", "texas", " TX ", "tx"} {
		st, ok := LookupState(in)
		require.True(t, ok, in)
		assert.Equal(t, "Texas", st.Name)
	}
	_, ok := LookupState("Atlantis")
	assert.False(t, ok)
}

func TestCanonicalState(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "District of Columbia", CanonicalState("dc"))
	assert.Equal(t, "New Mexico", CanonicalState("NEW MEXICO"))
	assert.Equal(t, "Atlantis", CanonicalState(" Atlantis "))
}

func TestCentroid_Unknown(t *testing.T) {
	t.Parallel()

	c, ok := Centroid("Narnia")
	assert.False(t, ok)
	assert.Equal(t, ContiguousCenter, c)
}
