package protocol

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint is one candidate address a service may be reached at.
type Endpoint struct {
	Host string
	Port uint16
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// ParseEndpoint accepts "host:port" and "[v6]:port".
func ParseEndpoint(raw string) (Endpoint, error) {
	host, portRaw, err := net.SplitHostPort(strings.TrimSpace(raw))
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, raw, err)
	}
	if strings.TrimSpace(host) == "" {
		return Endpoint{}, fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, raw)
	}
	port, err := strconv.ParseUint(portRaw, 10, 16)
	if err != nil || port == 0 {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrInvalidPort, raw)
	}
	return Endpoint{Host: host, Port: uint16(port)}, nil
}

func ParseEndpoints(raw []string) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(raw))
	for i, item := range raw {
		ep, err := ParseEndpoint(item)
		if err != nil {
			return nil, fmt.Errorf("endpoints[%d]: %w", i, err)
		}
		out = append(out, ep)
	}
	return out, nil
}
