package listing

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	numberPattern    = regexp.MustCompile(`\d[\d.,]*\d|\d`)
	areaPattern      = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	availablePattern = regexp.MustCompile(`\b\d{2}[/-]\d{2}[/-]\d{4}\b`)
)

// ParsePrice reads a Dutch formatted amount such as "€ 1.250,-",
// "€1.250 per maand" or "1250.50". Dots are thousands separators unless
// they are followed by one or two digits; a comma is the decimal mark.
func ParsePrice(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, eris.New("price is empty")
	}
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, eris.Errorf("price %q has no amount", s)
	}
	v, err := strconv.ParseFloat(decimalString(m), 64)
	if err != nil {
		return 0, eris.Wrapf(err, "price %q", s)
	}
	return v, nil
}

// ParseArea reads a floor area such as "85 m2", "85 m²" or "85,5". An empty
// value is 0; a value without a number is an error.
func ParseArea(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	m := areaPattern.FindString(s)
	if m == "" {
		return 0, eris.Errorf("area %q has no number", s)
	}
	v, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil {
		return 0, eris.Wrapf(err, "area %q", s)
	}
	return v, nil
}

// ExtractAvailableFrom returns the first dd/mm/yyyy or dd-mm-yyyy date in s,
// or "" when there is none.
func ExtractAvailableFrom(s string) string {
	return availablePattern.FindString(s)
}

// decimalString rewrites a Dutch number to the form strconv expects.
func decimalString(m string) string {
	if i := strings.LastIndex(m, ","); i >= 0 {
		whole := strings.ReplaceAll(m[:i], ".", "")
		whole = strings.ReplaceAll(whole, ",", "")
		return whole + "." + m[i+1:]
	}
	if i := strings.LastIndex(m, "."); i >= 0 && len(m)-i-1 <= 2 && strings.Count(m, ".") == 1 {
		return m
	}
	return strings.ReplaceAll(m, ".", "")
}

// parseBool reads the boolean spellings found in parser exports.
func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "ja", "y":
		return true, true
	case "false", "0", "no", "nee", "n":
		return false, true
	default:
		return false, false
	}
}

func parseCoord(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
