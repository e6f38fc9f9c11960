package geocode

import (
	"regexp"
	"strings"
)

var dutchPostcode = regexp.MustCompile(`^\d{4}\s?[A-Z]{2}$`)

// Components are the address parts read from a provider display name.
type Components struct {
	Neighborhood *string
	District     *string
	City         *string
	Postcode     *string
}

// ParseDisplayName reads fixed positions from a comma separated display
// name such as "2, Van Hallstraat, Staatsliedenbuurt, West, Amsterdam,
// Noord-Holland, Nederland, 1051 HH, Nederland". Positions 2, 3 and 4 are
// neighborhood, district and city; the second-to-last part is the postcode
// when it looks like one. The layout depends on how much detail the
// provider knows, so the fields are best effort.
func ParseDisplayName(display string) Components {
	var c Components
	if strings.TrimSpace(display) == "" {
		return c
	}

	parts := strings.Split(display, ", ")
	c.Neighborhood = part(parts, 2)
	c.District = part(parts, 3)
	c.City = part(parts, 4)
	if len(parts) >= 2 {
		if pc := strings.TrimSpace(parts[len(parts)-2]); dutchPostcode.MatchString(pc) {
			c.Postcode = &pc
		}
	}
	return c
}

func part(parts []string, i int) *string {
	if i >= len(parts) {
		return nil
	}
	s := strings.TrimSpace(parts[i])
	if s == "" {
		return nil
	}
	return &s
}
