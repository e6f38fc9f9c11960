package fetcher

import (
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
)

// TimeLayout is the layout timestamps are written with.
const TimeLayout = time.RFC3339

// timeLayouts are tried in order when reading timestamps. Older exports
// carry plain dates.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
}

// ParseTime parses s with the first matching layout. Blank input yields the
// zero time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("fetcher: unrecognized time %q", s)
}

// TimeUnmarshalers lets a csvutil.Decoder read any layout ParseTime accepts.
func TimeUnmarshalers() *csvutil.Unmarshalers {
	return csvutil.NewUnmarshalers(
		csvutil.UnmarshalFunc(func(data []byte, t *time.Time) error {
			parsed, err := ParseTime(string(data))
			if err != nil {
				return err
			}
			*t = parsed
			return nil
		}),
	)
}

// TimeMarshalers writes timestamps as RFC 3339 and the zero time as an
// empty cell.
func TimeMarshalers() *csvutil.Marshalers {
	return csvutil.NewMarshalers(
		csvutil.MarshalFunc(func(t time.Time) ([]byte, error) {
			if t.IsZero() {
				return nil, nil
			}
			return []byte(t.UTC().Format(TimeLayout)), nil
		}),
	)
}

// RenameHeader returns a copy of header with every from column renamed to to.
func RenameHeader(header []string, from, to string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), from) {
			out[i] = to
			continue
		}
		out[i] = strings.TrimSpace(h)
	}
	return out
}
