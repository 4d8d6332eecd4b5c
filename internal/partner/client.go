package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/leadwire/rtb-core/internal/bid"
	"github.com/leadwire/rtb-core/pkg/logger"
)

// maxResponseSize limits partner response reads to prevent OOM from a
// misbehaving endpoint
const maxResponseSize = 1024 * 1024 // 1MB

// Wire-contract timeout bounds. The partner treats timeout_ms as advisory;
// enforcement is client-side.
const (
	MinTimeout = 100 * time.Millisecond
	MaxTimeout = 1000 * time.Millisecond
)

// PartnerError is a typed partner/network failure surfaced to the caller
type PartnerError struct {
	StatusCode int
	Err        error
}

func (e *PartnerError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("partner request failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("partner request failed: %v", e.Err)
}

func (e *PartnerError) Unwrap() error { return e.Err }

// ClientConfig holds RTB partner client configuration
type ClientConfig struct {
	Endpoint      string        // Base URL of the partner bid endpoint
	APIKey        string        // Optional partner API key
	Timeout       time.Duration // Per-request budget, clamped to [100ms,1s]
	RetryAttempts uint64        // Retries after the first attempt
	Breaker       *BreakerConfig
}

// DefaultClientConfig returns production defaults
func DefaultClientConfig(endpoint string) *ClientConfig {
	return &ClientConfig{
		Endpoint:      endpoint,
		Timeout:       500 * time.Millisecond,
		RetryAttempts: 2,
		Breaker:       DefaultBreakerConfig(),
	}
}

// newTransport creates a connection-pooled transport tuned for
// low-latency, high-frequency bid requests
func newTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       120 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 500 * time.Millisecond,
		DisableCompression:    true,
	}
}

// Client issues bid requests to the RTB partner endpoint. Network
// failures are retried with exponential backoff up to the configured
// ceiling, and every completed attempt cycle feeds the circuit breaker.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	breaker    *Breaker
}

// NewClient creates a partner client with pooling and a circuit breaker
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig("")
	}
	config.Timeout = ClampTimeout(config.Timeout)

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: newTransport(config.Timeout),
		},
		breaker: NewBreaker(config.Breaker),
	}
}

// ClampTimeout bounds a timeout into the wire contract's [100ms,1s] window
func ClampTimeout(d time.Duration) time.Duration {
	if d < MinTimeout {
		return MinTimeout
	}
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

// RequestBids posts a bid request and returns the partner's bid set.
// ErrCircuitOpen is returned without network I/O while the breaker is
// open; other failures come back as *PartnerError.
func (c *Client) RequestBids(ctx context.Context, req *bid.Request) ([]bid.Bid, error) {
	var bids []bid.Bid

	err := c.breaker.Execute(func() error {
		var execErr error
		bids, execErr = c.requestWithRetry(ctx, req)
		return execErr
	})
	if err != nil {
		return nil, err
	}

	return bids, nil
}

// requestWithRetry retries transient failures with exponential backoff
func (c *Client) requestWithRetry(ctx context.Context, req *bid.Request) ([]bid.Bid, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &PartnerError{Err: fmt.Errorf("marshal bid request: %w", err)}
	}

	var bids []bid.Bid
	attempt := 0

	operation := func() error {
		attempt++
		result, opErr := c.doRequest(ctx, body)
		if opErr != nil {
			logger.Log.Debug().
				Err(opErr).
				Int("attempt", attempt).
				Str("request_id", req.RequestID).
				Msg("partner request attempt failed")
			return opErr
		}
		bids = result
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(20*time.Millisecond),
			backoff.WithMaxInterval(200*time.Millisecond),
		), c.config.RetryAttempts),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		var pe *PartnerError
		if !errors.As(err, &pe) {
			pe = &PartnerError{Err: err}
		}
		return nil, pe
	}

	return bids, nil
}

// doRequest performs one HTTP attempt
func (c *Client) doRequest(ctx context.Context, body []byte) ([]bid.Bid, error) {
	url := c.config.Endpoint + "/bids"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(&PartnerError{Err: fmt.Errorf("create request: %w", err)})
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("X-API-Key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network-level failure: retryable
		return nil, &PartnerError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		// Transient: retryable
		return nil, &PartnerError{StatusCode: resp.StatusCode, Err: fmt.Errorf("transient partner status")}
	default:
		// Other 4xx: retrying will not help
		return nil, backoff.Permanent(&PartnerError{StatusCode: resp.StatusCode, Err: fmt.Errorf("partner rejected request")})
	}

	var response bid.Response
	limited := io.LimitReader(resp.Body, maxResponseSize)
	if err := json.NewDecoder(limited).Decode(&response); err != nil {
		return nil, backoff.Permanent(&PartnerError{Err: fmt.Errorf("decode partner response: %w", err)})
	}

	return response.Bids, nil
}

// BreakerStats returns a snapshot of the client's circuit breaker
func (c *Client) BreakerStats() BreakerStats {
	return c.breaker.Stats()
}
