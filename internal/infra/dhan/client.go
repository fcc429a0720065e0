package dhan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/infra"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const quotePath = "/marketfeed/quote"

// Client is the REST client for the market quote endpoint, which carries
// five levels of depth per instrument.
type Client struct {
	baseURL     string
	clientID    string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
	now         func() time.Time
}

var _ domain.DepthSource = (*Client)(nil)

// NewClient creates a REST client limited to requestsPerSec calls.
func NewClient(baseURL, clientID, accessToken string, requestsPerSec float64) *Client {
	if requestsPerSec <= 0 {
		requestsPerSec = 1
	}
	return &Client{
		baseURL:     baseURL,
		clientID:    clientID,
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		logger:  slog.Default().With("module", "dhan_client"),
		now:     time.Now,
	}
}

type depthLevelJSON struct {
	Quantity int64   `json:"quantity"`
	Orders   int     `json:"orders"`
	Price    float64 `json:"price"`
}

type quoteJSON struct {
	LastPrice float64 `json:"last_price"`
	Depth     struct {
		Buy  []depthLevelJSON `json:"buy"`
		Sell []depthLevelJSON `json:"sell"`
	} `json:"depth"`
}

type quoteResponse struct {
	Status string                          `json:"status"`
	Data   map[string]map[string]quoteJSON `json:"data"`
}

func toLevels(in []depthLevelJSON) []domain.DepthLevel {
	out := make([]domain.DepthLevel, 0, len(in))
	for _, l := range in {
		out = append(out, domain.DepthLevel{
			Price:    decimal.NewFromFloat(l.Price),
			Quantity: l.Quantity,
			Orders:   l.Orders,
		})
	}
	return out
}

// FetchDepth requests depth for the given securities keyed by exchange segment.
func (c *Client) FetchDepth(ctx context.Context, securities map[string][]uint32) ([]domain.DepthSnapshot, error) {
	if len(securities) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, quotePath, securities)
	if err != nil {
		return nil, domain.NewNetworkError("quote request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewNetworkError("quote read", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("dhan api error: status=%d body=%s", resp.StatusCode, string(body))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, domain.NewNetworkError("quote", apiErr)
		}
		return nil, domain.NewFatalNetworkError("quote", apiErr)
	}

	var parsed quoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}
	if parsed.Status != "" && parsed.Status != "success" {
		return nil, fmt.Errorf("dhan quote status %q", parsed.Status)
	}

	at := c.now()
	var snaps []domain.DepthSnapshot
	for segment, bySecurity := range parsed.Data {
		for idStr, q := range bySecurity {
			id, err := strconv.ParseUint(idStr, 10, 32)
			if err != nil {
				c.logger.Debug("Skipping quote with invalid security id", slog.String("id", idStr))
				continue
			}
			snaps = append(snaps, domain.DepthSnapshot{
				SecurityID: uint32(id),
				Segment:    segment,
				Timestamp:  at,
				Bids:       toLevels(q.Depth.Buy),
				Asks:       toLevels(q.Depth.Sell),
			})
		}
	}
	return snaps, nil
}

// doRequest serializes the body and sets the auth headers.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", infra.DefaultUserAgent)
	req.Header.Set("access-token", c.accessToken)
	req.Header.Set("client-id", c.clientID)

	return c.httpClient.Do(req)
}
