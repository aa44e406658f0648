package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	// DefaultTypingTimeout is how long a typing indicator may sit idle
	// before the sweep announces it as stopped.
	DefaultTypingTimeout = 10 * time.Second
	// DefaultSweepInterval is the cadence of the typing expiry sweep.
	DefaultSweepInterval = 10 * time.Second
	// DefaultPingInterval is how often the server pings idle connections.
	DefaultPingInterval = 30 * time.Second
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	TypingTimeout  time.Duration
	SweepInterval  time.Duration
	PingInterval   time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig validates and assembles the relay configuration. The database
// DSN and signing secret are optional: without a DSN the persistence bridge
// is disabled, and without a secret handshake identities are taken from the
// query string as-is.
func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	var signingKey []byte
	if base64Secret != "" {
		var err error
		signingKey, err = decodeSigningSecret(base64Secret)
		if err != nil {
			return nil, fmt.Errorf("decode signing secret: %w", err)
		}
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		TypingTimeout:  DefaultTypingTimeout,
		SweepInterval:  DefaultSweepInterval,
		PingInterval:   DefaultPingInterval,
	}, nil
}
