// Package geo resolves coordinates to place names and time zones.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	nominatimAPIBase = "https://nominatim.openstreetmap.org/reverse"
	userAgent        = "moonhunter"
)

// addressKeys are tried in order, most specific first
var addressKeys = []string{"city", "town", "village", "suburb", "county", "state"}

// NominatimClient performs reverse geocoding against OpenStreetMap Nominatim
type NominatimClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewNominatimClient creates a new client. An empty baseURL uses the public service.
func NewNominatimClient(baseURL string) *NominatimClient {
	if baseURL == "" {
		baseURL = nominatimAPIBase
	}
	return &NominatimClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
	}
}

// nominatimResponse represents the API response structure
type nominatimResponse struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

// Reverse returns the most specific place name for the coordinates
func (c *NominatimClient) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	params := url.Values{}
	params.Add("format", "jsonv2")
	params.Add("lat", fmt.Sprintf("%.6f", lat))
	params.Add("lon", fmt.Sprintf("%.6f", lon))
	params.Add("zoom", "14")

	fullURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	// Nominatim's usage policy requires an identifying agent
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocoding: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("nominatim: %s", result.Error)
	}

	for _, key := range addressKeys {
		if name := result.Address[key]; name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("no place name for %.4f, %.4f", lat, lon)
}

// SuggestName never fails: lookup errors fall back to a coordinate label
func (c *NominatimClient) SuggestName(ctx context.Context, lat, lon float64) string {
	name, err := c.Reverse(ctx, lat, lon)
	if err != nil {
		return CoordinateLabel(lat, lon)
	}
	return name
}

// CoordinateLabel is the fallback name for an unnamed location
func CoordinateLabel(lat, lon float64) string {
	return fmt.Sprintf("Location %.2f, %.2f", lat, lon)
}
