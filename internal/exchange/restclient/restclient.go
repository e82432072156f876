// Package restclient implements the shared public-REST client used for
// venue endpoints outside the WebSocket market-data path (historical
// funding-rate backfill, exchange metadata). Order submission against a
// concrete venue is out of scope (§1) — this package only ever
// issues read-only GETs.
//
// A resty.Client with a base URL, bounded retry on 5xx, and a rate
// limiter Wait()ed on before every request.
package restclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Client is a rate-limited resty wrapper for one venue's public REST API.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// Config tunes the base URL, request timeout and request rate.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RequestsPerSec float64
	Burst         int
}

func DefaultConfig(baseURL string) Config {
	return Config{BaseURL: baseURL, Timeout: 10 * time.Second, RequestsPerSec: 10, Burst: 10}
}

func New(cfg Config) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst),
	}
}

// GetJSON issues a rate-limited GET and decodes the response body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}
