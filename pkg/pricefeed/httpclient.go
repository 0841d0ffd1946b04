// Package pricefeed reads historical USD spot prices from a CoinGecko-compatible API.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/canopy-network/exposure/pkg/utils"
)

// ErrNotFound is returned when the API answers but has no price for the request.
var ErrNotFound = errors.New("price not found")

// errAllOpen is returned when every endpoint is cooling down.
var errAllOpen = errors.New("all price endpoints have open breakers")

// HTTPClient queries a list of mirror endpoints in order, rate limited by a shared token
// bucket and skipping endpoints whose breaker is open.
type HTTPClient struct {
	endpoints []string
	client    *http.Client
	apiKey    string
	bucket    *tokenBucket
	breakers  *breakers
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	Endpoints       []string
	APIKey          string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// NewHTTPWithOpts creates a new HTTPClient with the given options.
// Public price APIs throttle hard, so the defaults are far below the node RPC ones.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 5
	}
	if o.Burst <= 0 {
		o.Burst = 10
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	return &HTTPClient{
		endpoints: utils.Dedup(o.Endpoints),
		client:    client,
		apiKey:    o.APIKey,
		bucket:    newTokenBucket(o.RPS, o.Burst),
		breakers:  newBreakers(o.BreakerFailures, o.BreakerCooldown),
	}
}

// getJSON decodes the first successful answer for path into out. A 404 maps to
// ErrNotFound without tripping the breaker; 5xx and 429 count as endpoint failures.
func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if len(c.endpoints) == 0 {
		return errors.New("no price endpoints configured")
	}

	lastErr := errAllOpen
	for _, ep := range c.endpoints {
		if !c.breakers.allow(ep) {
			continue
		}
		if err := c.bucket.wait(ctx); err != nil {
			return err
		}

		err := c.get(ctx, ep, path, query, out)
		switch {
		case err == nil:
			c.breakers.success(ep)
			return nil
		case errors.Is(err, ErrNotFound):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}
		var se *statusError
		if !errors.As(err, &se) || se.retryable() {
			c.breakers.failure(ep)
		}
		lastErr = err
	}
	return lastErr
}

type statusError struct {
	endpoint string
	code     int
}

func (e *statusError) Error() string { return fmt.Sprintf("%s answered %d", e.endpoint, e.code) }

func (e *statusError) retryable() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests
}

func (c *HTTPClient) get(ctx context.Context, ep, path string, query url.Values, out any) error {
	u := ep + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		return &statusError{endpoint: ep, code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", ep, err)
	}
	return nil
}
