package session

import (
	"time"

	"github.com/danmuck/edgerpc/internal/protocol/frame"
)

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig configures optional TLS on dialed connections.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	InsecureSkipVerify bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
}

// Config defines transport/session defaults for one service connection.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadBufferSize   int
	NoDelay          bool
	SecurityMode     SecurityMode
	TLS              TLSConfig
	Limits           frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     15 * time.Second,
		ReadBufferSize:   64 * 1024,
		NoDelay:          true,
		SecurityMode:     SecurityModeDevelopment,
		Limits:           frame.DefaultLimits(),
	}
}

// WithDefaults fills unset numeric fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	if c.Limits.MaxFrameBytes <= 0 {
		c.Limits.MaxFrameBytes = def.Limits.MaxFrameBytes
	}
	if c.Limits.MaxBufferedBytes <= 0 {
		c.Limits.MaxBufferedBytes = def.Limits.MaxBufferedBytes
	}
	if c.Limits.MaxNestedLevels <= 0 {
		c.Limits.MaxNestedLevels = def.Limits.MaxNestedLevels
	}
	return c
}
