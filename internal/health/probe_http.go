package health

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/routekit/chainroute/internal/registry"
)

// rpcProbeBody is a minimal JSON-RPC request every chain endpoint should
// answer; the response content is ignored, only reachability matters.
const rpcProbeBody = `{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber","params":[]}`

// HTTPProbe probes targets by POSTing a JSON-RPC request to their endpoints.
// Endpoints are tried in order; the first reachable one makes the target
// healthy.
type HTTPProbe struct {
	client *http.Client
}

// NewHTTPProbe creates an HTTP probe. Each probe call is additionally bounded
// by the monitor's per-probe context timeout.
func NewHTTPProbe() *HTTPProbe {
	return &HTTPProbe{
		client: &http.Client{
			Transport: &http.Transport{
				DisableKeepAlives: true, // don't hold connections for probes
			},
		},
	}
}

// Check implements ProbeFunc.
func (p *HTTPProbe) Check(ctx context.Context, target registry.Target) error {
	if len(target.Endpoints) == 0 {
		return fmt.Errorf("target %s has no endpoints", target.ID)
	}

	var lastErr error
	for _, endpoint := range target.Endpoints {
		if err := p.checkEndpoint(ctx, endpoint); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("all endpoints unreachable: %w", lastErr)
}

func (p *HTTPProbe) checkEndpoint(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte(rpcProbeBody)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	// 2xx and 3xx count as reachable
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
}
