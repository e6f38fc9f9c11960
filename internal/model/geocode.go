package model

import (
	"strings"
	"time"
)

// NormalizedAddress is a raw address split into its lookup parts.
type NormalizedAddress struct {
	Street          string  `json:"street"`
	NumberExtension *string `json:"number_extension,omitempty"`
	City            string  `json:"city"`
}

// IsZero reports whether the address is the fully-null value.
func (a NormalizedAddress) IsZero() bool {
	return a.Street == "" && a.NumberExtension == nil && a.City == ""
}

// CanonicalKey joins street, number extension and city with single spaces.
// Used as the full-address geocode cache key.
func (a NormalizedAddress) CanonicalKey() string {
	return joinNonEmpty(a.Street, Deref(a.NumberExtension), a.City)
}

// StreetOnlyKey joins street and city. Used as the street-level cache key.
func (a NormalizedAddress) StreetOnlyKey() string {
	return joinNonEmpty(a.Street, a.City)
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// GeocodeEntry is one cached geocode result. An entry with nil coordinates
// marks a key as known unresolvable.
type GeocodeEntry struct {
	Key          string    `json:"key" csv:"key"`
	Latitude     *float64  `json:"latitude,omitempty" csv:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty" csv:"longitude,omitempty"`
	Neighborhood *string   `json:"neighborhood,omitempty" csv:"neighborhood,omitempty"`
	District     *string   `json:"district,omitempty" csv:"district,omitempty"`
	City         *string   `json:"city,omitempty" csv:"city,omitempty"`
	Postcode     *string   `json:"postcode,omitempty" csv:"postcode,omitempty"`
	DisplayName  *string   `json:"display_name,omitempty" csv:"display_name,omitempty"`
	UpdatedAt    time.Time `json:"updated_at" csv:"date_updated"`
}

// Resolved reports whether the entry carries coordinates.
func (e GeocodeEntry) Resolved() bool {
	return e.Latitude != nil && e.Longitude != nil
}
