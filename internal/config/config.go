package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
	"github.com/danmuck/edgerpc/internal/protocol/session"
	"github.com/danmuck/edgerpc/internal/service"
)

var (
	ErrNoServices       = errors.New("config: no services defined")
	ErrServiceNotFound  = errors.New("config: service not found")
	ErrServiceAmbiguous = errors.New("config: service name required")
)

// Config is a loaded service file.
type Config struct {
	Path     string
	LogLevel string
	Services []ServiceConfig
}

// ServiceConfig is one resolved [[services]] entry.
type ServiceConfig struct {
	Name      string
	Endpoints []protocol.Endpoint
	APIPath   string
	API       schema.Map
	Session   session.Config
}

type fileConfig struct {
	LogLevel string          `toml:"log_level"`
	Services []serviceConfig `toml:"services"`
}

type serviceConfig struct {
	Name             string    `toml:"name"`
	Endpoints        []string  `toml:"endpoints"`
	API              string    `toml:"api"`
	ConnectTimeout   string    `toml:"connect_timeout"`
	HandshakeTimeout string    `toml:"handshake_timeout"`
	WriteTimeout     string    `toml:"write_timeout"`
	ReadBuffer       int       `toml:"read_buffer"`
	MaxFrameBytes    int       `toml:"max_frame_bytes"`
	MaxBufferedBytes int       `toml:"max_buffered_bytes"`
	NoDelay          *bool     `toml:"nodelay"`
	SecurityMode     string    `toml:"security_mode"`
	TLS              tlsConfig `toml:"tls"`
}

type tlsConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	ServerName         string `toml:"server_name"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
}

// Load decodes a service file. Relative api and tls paths resolve against
// the directory holding the file.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load service config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load service config: unknown key %q", undecoded[0].String())
	}

	cfg := Config{Path: path, LogLevel: "info"}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if len(raw.Services) == 0 {
		return Config{}, ErrNoServices
	}

	base := filepath.Dir(path)
	seen := make(map[string]struct{}, len(raw.Services))
	for i, entry := range raw.Services {
		sc, err := entry.resolve(base)
		if err != nil {
			return Config{}, fmt.Errorf("services[%d]: %w", i, err)
		}
		if _, dup := seen[sc.Name]; dup {
			return Config{}, fmt.Errorf("services[%d]: duplicate name %q", i, sc.Name)
		}
		seen[sc.Name] = struct{}{}
		cfg.Services = append(cfg.Services, sc)
	}
	return cfg, nil
}

func (raw serviceConfig) resolve(base string) (ServiceConfig, error) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return ServiceConfig{}, fmt.Errorf("name is required")
	}
	endpoints, err := protocol.ParseEndpoints(raw.Endpoints)
	if err != nil {
		return ServiceConfig{}, err
	}

	cfg := session.DefaultConfig()
	if cfg.ConnectTimeout, err = parseDuration("connect_timeout", raw.ConnectTimeout, cfg.ConnectTimeout); err != nil {
		return ServiceConfig{}, err
	}
	if cfg.HandshakeTimeout, err = parseDuration("handshake_timeout", raw.HandshakeTimeout, cfg.HandshakeTimeout); err != nil {
		return ServiceConfig{}, err
	}
	if cfg.WriteTimeout, err = parseDuration("write_timeout", raw.WriteTimeout, cfg.WriteTimeout); err != nil {
		return ServiceConfig{}, err
	}
	if raw.ReadBuffer > 0 {
		cfg.ReadBufferSize = raw.ReadBuffer
	}
	if raw.MaxFrameBytes > 0 {
		cfg.Limits.MaxFrameBytes = raw.MaxFrameBytes
	}
	if raw.MaxBufferedBytes > 0 {
		cfg.Limits.MaxBufferedBytes = raw.MaxBufferedBytes
	}
	if raw.NoDelay != nil {
		cfg.NoDelay = *raw.NoDelay
	}
	if mode := strings.TrimSpace(raw.SecurityMode); mode != "" {
		cfg.SecurityMode = session.SecurityMode(mode)
	}
	cfg.TLS = session.TLSConfig{
		Enabled:            raw.TLS.Enabled,
		Mutual:             raw.TLS.Mutual,
		InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
		ServerName:         strings.TrimSpace(raw.TLS.ServerName),
		CAFile:             resolvePath(base, raw.TLS.CAFile),
		CertFile:           resolvePath(base, raw.TLS.CertFile),
		KeyFile:            resolvePath(base, raw.TLS.KeyFile),
	}
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return ServiceConfig{}, err
	}

	sc := ServiceConfig{
		Name:      name,
		Endpoints: endpoints,
		APIPath:   resolvePath(base, raw.API),
		Session:   cfg,
	}
	if sc.APIPath != "" {
		api, err := schema.LoadFile(sc.APIPath)
		if err != nil {
			return ServiceConfig{}, err
		}
		sc.API = api
	}
	return sc, nil
}

// Service returns the named entry. An empty name selects the only entry of
// a single-service file.
func (c Config) Service(name string) (ServiceConfig, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if len(c.Services) == 1 {
			return c.Services[0], nil
		}
		return ServiceConfig{}, fmt.Errorf("%w: %d services in %s", ErrServiceAmbiguous, len(c.Services), c.Path)
	}
	for _, sc := range c.Services {
		if sc.Name == name {
			return sc, nil
		}
	}
	return ServiceConfig{}, fmt.Errorf("%w: %q", ErrServiceNotFound, name)
}

// Build constructs a service handle from the entry.
func (sc ServiceConfig) Build(opts ...service.Option) (*service.Service, error) {
	base := []service.Option{
		service.WithConfig(sc.Session),
		service.WithAPI(sc.API),
	}
	return service.New(sc.Name, sc.Endpoints, append(base, opts...)...)
}

// Registry builds and registers every configured service.
func (c Config) Registry(opts ...service.Option) (*service.Registry, error) {
	reg := service.NewRegistry()
	for _, sc := range c.Services {
		svc, err := sc.Build(opts...)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(svc); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func parseDuration(key, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse %s: must be positive", key)
	}
	return d, nil
}

func resolvePath(base, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
