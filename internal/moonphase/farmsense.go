// Package moonphase fetches lunar illumination from remote providers and
// layers timeouts, metrics and caching on top of them.
package moonphase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/awaistahir/moonhunter/internal/engine"
)

const farmsenseAPIBase = "https://api.farmsense.net/v1/moonphases/"

// FarmsenseClient fetches moon phases from the Farmsense API
type FarmsenseClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewFarmsenseClient creates a client. An empty baseURL uses the public API.
func NewFarmsenseClient(baseURL string, timeout time.Duration) *FarmsenseClient {
	if baseURL == "" {
		baseURL = farmsenseAPIBase
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FarmsenseClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// farmsensePhase is one element of the API response array
type farmsensePhase struct {
	Error        int     `json:"Error"`
	ErrorMsg     string  `json:"ErrorMsg"`
	Illumination float64 `json:"Illumination"` // 0-1
	Age          float64 `json:"Age"`
	Phase        string  `json:"Phase"`
	TargetDate   string  `json:"TargetDate"`
}

// Illumination fetches the phase for a unix timestamp
func (c *FarmsenseClient) Illumination(ctx context.Context, unix int64) (engine.Phase, error) {
	params := url.Values{}
	params.Add("d", strconv.FormatInt(unix, 10))
	fullURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return engine.Phase{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return engine.Phase{}, c.fail(ErrorKindNetwork, unix, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return engine.Phase{}, c.fail(ErrorKindUpstream, unix, resp.StatusCode,
			fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body)))
	}

	var phases []farmsensePhase
	if err := json.NewDecoder(resp.Body).Decode(&phases); err != nil {
		return engine.Phase{}, c.fail(ErrorKindInvalidData, unix, 0, fmt.Errorf("decoding response: %w", err))
	}
	if len(phases) == 0 {
		return engine.Phase{}, c.fail(ErrorKindInvalidData, unix, 0, errors.New("empty response"))
	}

	p := phases[0]
	if p.Error != 0 {
		return engine.Phase{}, c.fail(ErrorKindUpstream, unix, 0, fmt.Errorf("API error %d: %s", p.Error, p.ErrorMsg))
	}
	if p.Illumination < 0 || p.Illumination > 1 {
		return engine.Phase{}, c.fail(ErrorKindInvalidData, unix, 0, fmt.Errorf("illumination %v out of range", p.Illumination))
	}

	return engine.Phase{Fraction: p.Illumination, AgeDays: p.Age}, nil
}

func (c *FarmsenseClient) fail(kind ErrorKind, unix int64, status int, err error) error {
	return &ProviderError{
		Kind:       kind,
		Provider:   "farmsense",
		Timestamp:  unix,
		StatusCode: status,
		Err:        err,
	}
}
