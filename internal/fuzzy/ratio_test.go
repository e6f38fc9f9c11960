package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenSortRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "prinsengracht", "prinsengracht", 100},
		{"word order", "van hallstraat", "hallstraat van", 100},
		{"extra whitespace", "  van   hallstraat ", "van hallstraat", 100},
		{"both empty", "", "", 100},
		{"one empty", "damstraat", "", 0},
		{"one insertion", "this is a test", "this is a test!", 100 * (1 - 1.0/29)},
		{"case sensitive", "Damstraat", "damstraat", 100 * (1 - 2.0/18)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, TokenSortRatio(tt.a, tt.b), 1e-9)
		})
	}
}

func TestTokenSortRatio_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"eerste helmersstraat", "1e helmersstraat"},
		{"kalverstraat", "prinsengracht"},
		{"overtoom", "overtoon"},
	}
	for _, p := range pairs {
		assert.InDelta(t, TokenSortRatio(p[0], p[1]), TokenSortRatio(p[1], p[0]), 1e-9)
	}
}

func TestRatio_Unicode(t *testing.T) {
	// One substitution on a multi-byte rune is one deletion plus one insertion.
	assert.InDelta(t, 100*(1-2.0/20), Ratio("cafestraat", "caféstraat"), 1e-9)
}
