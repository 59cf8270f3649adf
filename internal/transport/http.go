// Package transport dispatches routed requests to target endpoints over HTTP.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/routekit/chainroute/internal/logger"
	"github.com/routekit/chainroute/internal/registry"
	"github.com/routekit/chainroute/internal/retry"
)

// Dispatcher sends JSON payloads to a target's HTTP endpoints. Endpoints are
// tried in declaration order; the first successful response wins.
type Dispatcher struct {
	client *http.Client
}

// NewDispatcher creates a Dispatcher whose requests are bounded by timeout.
func NewDispatcher(timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Dispatch POSTs the payload as JSON to the target's endpoints in order and
// returns the decoded response body. It satisfies router.DispatchFunc.
func (d *Dispatcher) Dispatch(ctx context.Context, target registry.Target, payload any) (any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		// A payload that cannot be serialized will never succeed.
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	var lastErr error
	attempted := 0
	for _, endpoint := range target.Endpoints {
		if !isHTTPEndpoint(endpoint) {
			continue
		}
		attempted++

		result, err := d.post(ctx, endpoint, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		logger.Debug("endpoint_failed", "target", target.ID, "endpoint", endpoint, "error", err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if attempted == 0 {
		return nil, fmt.Errorf("target %s has no http endpoints", target.ID)
	}
	return nil, lastErr
}

// post sends one request to one endpoint.
func (d *Dispatcher) post(ctx context.Context, endpoint string, body []byte) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 500 {
		// Server-side failures are usually transient.
		return nil, retry.MarkRecoverable(fmt.Errorf("endpoint returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	var result any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
	}
	return result, nil
}

// maxResponseBytes caps response bodies to keep a misbehaving upstream from
// exhausting memory.
const maxResponseBytes = 16 << 20

// isHTTPEndpoint reports whether the endpoint URI is dispatchable over HTTP.
// WebSocket endpoints are listed for subscribers and skipped here.
func isHTTPEndpoint(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}
