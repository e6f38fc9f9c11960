package listing

import (
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/woonradar/listings-cli/internal/model"
)

var registry = map[string]*sourceAdapter{
	"vesteda": {
		name:     "vesteda",
		policy:   model.PolicyOverwriteLatest,
		kind:     KindRental,
		identity: byLink,
		linkBase: "https://hurenbij.vesteda.com",
		cols: columns{
			address:   []string{"address", "adres"},
			city:      []string{"location", "city"},
			price:     []string{"price"},
			area:      []string{"area"},
			link:      []string{"link", "url"},
			status:    []string{"status_note", "status"},
			note:      []string{"status_note", "note"},
			available: []string{"is_available"},
			latitude:  []string{"latitude", "lat"},
			longitude: []string{"longitude", "lon", "lng"},
		},
		status: statusRule{unavailable: []string{"al veel bezichtigingsaanvragen", "verhuurd"}, fallback: true},
	},
	"bouwinvest": {
		name:     "bouwinvest",
		policy:   model.PolicyOverwriteLatest,
		kind:     KindRental,
		identity: byLink,
		linkBase: "https://www.wonenbijbouwinvest.nl",
		cols: columns{
			address:   []string{"adress", "address", "title"},
			city:      []string{"location", "city"},
			price:     []string{"price"},
			area:      []string{"surface_m2", "area"},
			link:      []string{"url", "link"},
			status:    []string{"availability", "status"},
			note:      []string{"description", "note"},
			available: []string{"is_available"},
			latitude:  []string{"latitude", "lat"},
			longitude: []string{"longitude", "lon", "lng"},
		},
		status: statusRule{unavailable: []string{"verhuurd", "onder optie"}, fallback: true},
	},
	"ikwilhuren": {
		name:     "ikwilhuren",
		policy:   model.PolicyFullHistory,
		kind:     KindRental,
		identity: byLink,
		linkBase: "https://ikwilhuren.nu",
		cols: columns{
			address:       []string{"full_adres", "address"},
			city:          []string{"city"},
			price:         []string{"price"},
			area:          []string{"area"},
			link:          []string{"url", "link"},
			status:        []string{"available", "status"},
			availableFrom: []string{"available_from", "available"},
			available:     []string{"is_available"},
			latitude:      []string{"latitude", "lat"},
			longitude:     []string{"longitude", "lon", "lng"},
		},
		status: statusRule{unavailable: []string{"verhuurd", "onder optie"}, fallback: true},
	},
	"vbt_huren": {
		name:     "vbt_huren",
		policy:   model.PolicyOverwriteLatest,
		kind:     KindRental,
		identity: byLink,
		linkBase: "https://www.vbtverhuurmakelaars.nl",
		cols: columns{
			address:       []string{"address"},
			city:          []string{"city"},
			price:         []string{"price_per_month", "price"},
			area:          []string{"surface_area_m2", "area"},
			link:          []string{"detail_url", "url", "link"},
			status:        []string{"status"},
			note:          []string{"note"},
			availableFrom: []string{"available_from"},
			latitude:      []string{"latitude", "lat"},
			longitude:     []string{"longitude", "lon", "lng"},
		},
		status: statusRule{
			unavailable: []string{"aangeboden", "verhuurd"},
			available:   []string{"beschikbaar", "te huur"},
		},
	},
	"makelaar": {
		name:     "makelaar",
		policy:   model.PolicyOverwriteLatest,
		kind:     KindBuy,
		identity: byAddress,
		cols: columns{
			address:       []string{"full_adres", "address"},
			city:          []string{"city"},
			price:         []string{"price"},
			area:          []string{"area", "surface_m2"},
			link:          []string{"url", "link"},
			status:        []string{"available", "status"},
			note:          []string{"note"},
			availableFrom: []string{"available_from"},
			available:     []string{"is_available"},
			latitude:      []string{"latitude", "lat"},
			longitude:     []string{"longitude", "lon", "lng"},
		},
		status: statusRule{
			unavailable: []string{"verkocht", "onder bod", "onder optie", "verhuurd"},
			available:   []string{"beschikbaar", "te koop", "te huur"},
			fallback:    true,
		},
	},
}

// Names returns the registered adapter names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Lookup returns the adapter registered under name.
func Lookup(name string) (Adapter, error) {
	a, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, eris.Errorf("listing: unknown adapter %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	cp := *a
	return &cp, nil
}

// Configure returns a copy of a that reports source as its name and uses
// policy. Empty values keep the adapter's own.
func Configure(a Adapter, source string, policy model.Policy) Adapter {
	c := configured{Adapter: a, source: a.Source(), policy: a.Policy()}
	if source != "" {
		c.source = source
	}
	if policy != "" {
		c.policy = policy
	}
	return c
}

type configured struct {
	Adapter
	source string
	policy model.Policy
}

func (c configured) Source() string       { return c.source }
func (c configured) Policy() model.Policy { return c.policy }

func (c configured) Map(rec map[string]string, scrapedAt time.Time) (model.RawListing, error) {
	raw, err := c.Adapter.Map(rec, scrapedAt)
	raw.Source = c.source
	return raw, err
}
