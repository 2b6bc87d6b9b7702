package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/protocol/session"
)

// Dialer opens one stream connection to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, ep protocol.Endpoint) (net.Conn, error)
}

type DialerFunc func(ctx context.Context, ep protocol.Endpoint) (net.Conn, error)

func (f DialerFunc) Dial(ctx context.Context, ep protocol.Endpoint) (net.Conn, error) {
	return f(ctx, ep)
}

// NetDialer dials TCP, optionally wrapped in TLS.
type NetDialer struct {
	cfg session.Config
}

func NewNetDialer(cfg session.Config) *NetDialer {
	return &NetDialer{cfg: cfg.WithDefaults()}
}

func (d *NetDialer) Dial(ctx context.Context, ep protocol.Endpoint) (net.Conn, error) {
	if err := d.cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: d.cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		return nil, err
	}
	if tcp, ok := rawConn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(d.cfg.NoDelay); err != nil {
			_ = rawConn.Close()
			return nil, err
		}
	}
	if !d.cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := d.clientTLSConfig(ep)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (d *NetDialer) clientTLSConfig(ep protocol.Endpoint) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: d.cfg.TLS.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(d.cfg.TLS.ServerName)
	if serverName == "" {
		serverName = ep.Host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(d.cfg.TLS.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("service: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}

	if d.cfg.TLS.Mutual {
		cert, err := tls.LoadX509KeyPair(d.cfg.TLS.CertFile, d.cfg.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
