package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProspectKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, state string
		want        string
	}{
		{"Austin Police Department", "Texas", "austin_police_department_texas"},
		{"Bexar County Sheriff's Office", "Texas", "bexar_county_sheriff_s_office_texas"},
		{"  Dallas PD ", "TX", "dallas_pd_tx"},
		{"Policía de San Juan", "Puerto Rico", "policia_de_san_juan_puerto_rico"},
		{"City of St. Louis", "Missouri", "city_of_st__louis_missouri"},
		{"", "", "_"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ProspectKey(tt.name, tt.state))
		})
	}
}

func TestProspectKey_Deterministic(t *testing.T) {
	t.Parallel()

	first := ProspectKey("Harris County Constable Precinct 4", "Texas")
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, ProspectKey("Harris County Constable Precinct 4", "Texas"))
	}
	assert.Equal(t, ProspectKey("harris county constable precinct 4", "texas"), first)
}

func TestSlugify_OnlySafeRunes(t *testing.T) {
	t.Parallel()

	got := Slugify("Ünïcødé — Ørg & Co. (2024)")
	for _, r := range got {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
		assert.True(t, ok, "unexpected rune %q in %q", r, got)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusDone.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestDiscoverySessionOwnedBy(t *testing.T) {
	t.Parallel()

	open := &DiscoverySession{ID: "s1"}
	assert.True(t, open.OwnedBy(""))
	assert.True(t, open.OwnedBy("u1"))

	owned := &DiscoverySession{ID: "s2", OwnerID: "u1"}
	assert.True(t, owned.OwnedBy("u1"))
	assert.False(t, owned.OwnedBy("u2"))
	assert.False(t, owned.OwnedBy(""))
}
