package geocode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDisplayName(t *testing.T) {
	c := ParseDisplayName("1, Van Hallstraat, Staatsliedenbuurt, West, Amsterdam, Noord-Holland, Nederland, 1051 HH, Nederland")

	require.NotNil(t, c.Neighborhood)
	assert.Equal(t, "Staatsliedenbuurt", *c.Neighborhood)
	require.NotNil(t, c.District)
	assert.Equal(t, "West", *c.District)
	require.NotNil(t, c.City)
	assert.Equal(t, "Amsterdam", *c.City)
	require.NotNil(t, c.Postcode)
	assert.Equal(t, "1051 HH", *c.Postcode)
}

func TestParseDisplayName_Short(t *testing.T) {
	c := ParseDisplayName("Van Hallstraat, Amsterdam, Nederland")

	require.NotNil(t, c.Neighborhood)
	assert.Equal(t, "Nederland", *c.Neighborhood)
	assert.Nil(t, c.District)
	assert.Nil(t, c.City)
	assert.Nil(t, c.Postcode)
}

func TestParseDisplayName_PostcodeWithoutSpace(t *testing.T) {
	c := ParseDisplayName("2, Damstraat, Burgwallen, Centrum, Amsterdam, 1012JM, Nederland")
	require.NotNil(t, c.Postcode)
	assert.Equal(t, "1012JM", *c.Postcode)
}

func TestParseDisplayName_Empty(t *testing.T) {
	assert.Equal(t, Components{}, ParseDisplayName(""))
	assert.Equal(t, Components{}, ParseDisplayName("   "))
}
