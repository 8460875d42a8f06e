// Package enrich provides best-effort enrichment of raw security events with
// geo and device attributes. Enrichment is advisory: every failure degrades
// to unknown fields and never blocks ingestion.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Geo holds best-effort location attributes for an IP address.
// Zero values mean the attribute is unknown.
type Geo struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// GeoProvider resolves an IP address to geo attributes.
type GeoProvider interface {
	Lookup(ctx context.Context, ip string) (Geo, error)
}

// GeoConfig holds geo lookup settings.
type GeoConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultGeoConfig returns the default geo lookup configuration.
func DefaultGeoConfig() GeoConfig {
	return GeoConfig{
		Enabled: false,
		BaseURL: "https://ipapi.co",
		Timeout: 2 * time.Second,
	}
}

// HTTPGeoProvider resolves IPs against an ipapi-style HTTP endpoint.
type HTTPGeoProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGeoProvider creates a geo provider backed by an HTTP lookup service.
func NewHTTPGeoProvider(cfg GeoConfig) *HTTPGeoProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPGeoProvider{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// geoResponse is the wire format of the lookup service.
type geoResponse struct {
	CountryCode string `json:"country_code"`
	Region      string `json:"region"`
	City        string `json:"city"`
}

// Lookup resolves an IP address. Private and loopback addresses resolve to
// an empty Geo without a network round trip.
func (p *HTTPGeoProvider) Lookup(ctx context.Context, ip string) (Geo, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Geo{}, fmt.Errorf("invalid ip: %q", ip)
	}
	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() {
		return Geo{}, nil
	}

	url := fmt.Sprintf("%s/%s/json/", p.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Geo{}, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Geo{}, fmt.Errorf("geo lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Geo{}, fmt.Errorf("geo lookup returned %d", resp.StatusCode)
	}

	var body geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Geo{}, fmt.Errorf("geo lookup decode failed: %w", err)
	}

	return Geo{
		Country: body.CountryCode,
		Region:  body.Region,
		City:    body.City,
	}, nil
}

// NoopGeoProvider always resolves to an unknown location. Used when geo
// enrichment is disabled.
type NoopGeoProvider struct{}

func (NoopGeoProvider) Lookup(ctx context.Context, ip string) (Geo, error) {
	return Geo{}, nil
}

// Enricher wraps a GeoProvider with a bounded timeout and failure recovery.
type Enricher struct {
	geo     GeoProvider
	timeout time.Duration
}

// NewEnricher creates an Enricher. A nil provider disables geo lookups.
func NewEnricher(geo GeoProvider, timeout time.Duration) *Enricher {
	if geo == nil {
		geo = NoopGeoProvider{}
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Enricher{geo: geo, timeout: timeout}
}

// Geo resolves geo attributes for an IP, degrading to unknown on any
// failure or timeout.
func (e *Enricher) Geo(ctx context.Context, ip string) Geo {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	geo, err := e.geo.Lookup(ctx, ip)
	if err != nil {
		slog.Debug("geo enrichment degraded", "ip", ip, "error", err)
		return Geo{}
	}
	return geo
}
