package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"milk", "Milk"},
		{"MILK", "Milk"},
		{"  whole   milk ", "Whole Milk"},
		{"зелёный чай", "Зеленый Чай"},
		{"ЗЕЛЁНЫЙ ЧАЙ", "Зеленый Чай"},
		{"Ёгурт", "Егурт"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestNormalizedEqualConvergence(t *testing.T) {
	// Names differing only by case or the ё variant must resolve to the
	// same product row.
	assert.True(t, NormalizedEqual("зелёный чай", "Зеленый чай"))
	assert.True(t, NormalizedEqual("Milk", "mIlK"))
	assert.False(t, NormalizedEqual("Milk", "Almond Milk"))
}
