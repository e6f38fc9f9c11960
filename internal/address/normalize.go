// Package address splits raw listing addresses into street, house number
// and city, producing the keys used for geocode lookups.
package address

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/woonradar/listings-cli/internal/model"
)

// DefaultFallbackCity is used when neither the address nor the source
// supplies a city.
const DefaultFallbackCity = "Amsterdam"

// Options configures Normalize.
type Options struct {
	// City is the value of a dedicated city column, if the source has one.
	City string
	// FallbackCity is used when no city can be found. Empty means
	// DefaultFallbackCity.
	FallbackCity string
}

// postcodePrefix matches a leading Dutch postcode such as "1014 BG ".
var postcodePrefix = regexp.MustCompile(`^\d{4}\s?[A-Za-z]{2}(\s+|$)`)

// Normalize splits raw into street, number extension and city. It is a pure
// function: the same input always yields the same address. Blank input
// yields the zero address.
func Normalize(raw string, opts Options) model.NormalizedAddress {
	s := clean(raw)
	if s == "" {
		return model.NormalizedAddress{}
	}

	head, city := splitCity(s)
	if city == "" {
		city = stripPostcode(clean(opts.City))
	}
	if city == "" {
		city = opts.FallbackCity
		if city == "" {
			city = DefaultFallbackCity
		}
	}

	street, ext := splitNumber(head)
	addr := model.NormalizedAddress{Street: street, City: city}
	if ext != "" {
		addr.NumberExtension = &ext
	}
	return addr
}

// ExtractStreet returns everything before the first digit, trimmed. If the
// address has no digit the whole (trimmed) string is the street.
func ExtractStreet(raw string) string {
	street, _ := splitNumber(clean(raw))
	return street
}

// StreetKey is the lower-cased street used to match against the street cache.
func StreetKey(raw string) string {
	return strings.ToLower(ExtractStreet(raw))
}

// clean NFC-normalizes s and collapses runs of whitespace.
func clean(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// splitCity separates a trailing city from the rest of the address. It
// recognizes "<street> in <city>" and "<street>, <postcode> <city>".
func splitCity(s string) (head, city string) {
	if i := strings.LastIndex(strings.ToLower(s), " in "); i > 0 {
		return strings.TrimSpace(s[:i]), stripPostcode(s[i+4:])
	}
	if i := strings.LastIndex(s, ","); i >= 0 {
		return strings.TrimSpace(s[:i]), stripPostcode(s[i+1:])
	}
	return s, ""
}

func stripPostcode(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimSpace(postcodePrefix.ReplaceAllString(s, ""))
}

// embeddedPostcode matches a postcode between the house number and the city
// in a joined key such as "Damstraat 2 1012 JS Amsterdam".
var embeddedPostcode = regexp.MustCompile(`\s\d{4}\s?[A-Z]{2}\s`)

// HistoryKey maps a full_address_processed value from a makelaar history
// file onto the CanonicalKey shape. History files keep the postcode in the
// city ("Damstraat 2 1012 JS Amsterdam"); canonical keys do not.
func HistoryKey(key string) string {
	key = clean(key)
	if loc := embeddedPostcode.FindStringIndex(key); loc != nil {
		key = key[:loc[0]] + " " + key[loc[1]:]
	}
	return key
}

func splitNumber(s string) (street, ext string) {
	i := strings.IndexFunc(s, unicode.IsDigit)
	if i < 0 {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i:])
}
