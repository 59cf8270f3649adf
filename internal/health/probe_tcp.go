package health

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/routekit/chainroute/internal/registry"
)

// TCPProbe probes targets by opening a TCP connection to each endpoint's
// host. Cheaper than an HTTP probe, but only proves the port is open.
type TCPProbe struct {
	dialer *net.Dialer
}

// NewTCPProbe creates a TCP probe.
func NewTCPProbe() *TCPProbe {
	return &TCPProbe{
		dialer: &net.Dialer{},
	}
}

// Check implements ProbeFunc.
func (p *TCPProbe) Check(ctx context.Context, target registry.Target) error {
	if len(target.Endpoints) == 0 {
		return fmt.Errorf("target %s has no endpoints", target.ID)
	}

	var lastErr error
	for _, endpoint := range target.Endpoints {
		addr, err := endpointAddr(endpoint)
		if err != nil {
			lastErr = err
			continue
		}
		conn, err := p.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = fmt.Errorf("tcp connect failed: %w", err)
			continue
		}
		conn.Close()
		return nil
	}
	return fmt.Errorf("all endpoints unreachable: %w", lastErr)
}

// endpointAddr extracts host:port from an endpoint URI, defaulting the port
// from the scheme.
func endpointAddr(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("invalid endpoint %q: no host", endpoint)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(host, port), nil
}
