package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/woonradar/listings-cli/internal/resilience"
)

// DefaultMapsCoURL is the geocode.maps.co API base.
const DefaultMapsCoURL = "https://geocode.maps.co"

type mapsCoPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// MapsCoOption configures a MapsCoProvider.
type MapsCoOption func(*MapsCoProvider)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) MapsCoOption {
	return func(p *MapsCoProvider) {
		p.httpClient = hc
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(base string) MapsCoOption {
	return func(p *MapsCoProvider) {
		p.baseURL = strings.TrimRight(base, "/")
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) MapsCoOption {
	return func(p *MapsCoProvider) {
		if d > 0 {
			p.httpClient = &http.Client{Timeout: d}
		}
	}
}

// MapsCoProvider searches geocode.maps.co.
type MapsCoProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewMapsCoProvider returns a provider using apiKey.
func NewMapsCoProvider(apiKey string, opts ...MapsCoOption) *MapsCoProvider {
	p := &MapsCoProvider{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    DefaultMapsCoURL,
		apiKey:     apiKey,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *MapsCoProvider) Name() string { return "maps.co" }

// Search implements Provider. Status 408, 429 and 5xx come back as
// resilience.TransientError.
func (p *MapsCoProvider) Search(ctx context.Context, q Query) ([]Place, error) {
	params := url.Values{}
	if q.Text != "" {
		params.Set("q", q.Text)
	} else {
		params.Set("street", q.Street)
		if q.City != "" {
			params.Set("city", q.City)
		}
		if q.Country != "" {
			params.Set("country", q.Country)
		}
	}
	if p.apiKey != "" {
		params.Set("api_key", p.apiKey)
	}

	reqURL := p.baseURL + "/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: maps.co build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: maps.co request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: maps.co returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: maps.co read body")
	}

	var raw []mapsCoPlace
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, eris.Wrap(err, "geocode: maps.co parse response")
	}

	places := make([]Place, 0, len(raw))
	for _, r := range raw {
		lat, latErr := strconv.ParseFloat(r.Lat, 64)
		lon, lonErr := strconv.ParseFloat(r.Lon, 64)
		if latErr != nil || lonErr != nil {
			continue
		}
		places = append(places, Place{Latitude: lat, Longitude: lon, DisplayName: r.DisplayName})
	}
	if len(places) == 0 {
		return nil, ErrNoMatch
	}
	return places, nil
}
