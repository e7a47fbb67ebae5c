package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUnit(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"kg", "kg"},
		{"КГ", "kg"},
		{" кг ", "kg"},
		{"гр", "g"},
		{"ml", "ml"},
		{"МЛ", "ml"},
		{"л", "l"},
		{"шт", "pc"},
		{"шт.", "pc"},
		{"pcs", "pc"},
		{"pack", "pc"},
		{"", "pc"},
		{"whatever", "pc"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeUnit(tt.text))
		})
	}
}

func TestConvertToBaseRoundTrip(t *testing.T) {
	for _, u := range Vocabulary() {
		// 1 unit converts to exactly its coefficient.
		assert.InDelta(t, u.Coefficient, ConvertToBase(1, u.ID), 1e-12, "unit %s", u.ID)

		// A base unit converts as identity.
		if u.IsBase {
			assert.Equal(t, 42.5, ConvertToBase(42.5, u.ID))
		}
	}
}

func TestConvertToBaseKnownValues(t *testing.T) {
	assert.InDelta(t, 0.93, ConvertToBase(930, "ml"), 1e-12)
	assert.InDelta(t, 0.5, ConvertToBase(500, "g"), 1e-12)
	assert.Equal(t, 3.0, ConvertToBase(3, "pc"))
}

func TestConvertToBaseUnknownUnitIsIdentity(t *testing.T) {
	assert.Equal(t, 7.0, ConvertToBase(7, "parsec"))
}

func TestFamiliesAreDisjoint(t *testing.T) {
	baseSeen := map[string]string{}
	for _, u := range Vocabulary() {
		base, ok := Get(u.BaseUnitID)
		require.True(t, ok, "base unit %s must exist", u.BaseUnitID)
		require.True(t, base.IsBase, "unit %s points at non-base %s", u.ID, u.BaseUnitID)

		if prev, ok := baseSeen[u.ID]; ok {
			require.Equal(t, prev, u.BaseUnitID)
		}
		baseSeen[u.ID] = u.BaseUnitID
	}
}

func TestBaseUnitOf(t *testing.T) {
	assert.Equal(t, "l", BaseUnitOf("ml"))
	assert.Equal(t, "kg", BaseUnitOf("g"))
	assert.Equal(t, "pc", BaseUnitOf("unknown"))
}
