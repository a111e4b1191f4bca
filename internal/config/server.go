package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"
)

// ServerConfig is the public HTTP listener serving both the storefront cart
// endpoints and the admin rule endpoints.
type ServerConfig struct {
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port string `envconfig:"PORT" default:"8080"`

	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"`

	// MaxBodyBytes caps request bodies. Rule payloads with long product lists are the largest.
	MaxBodyBytes int64 `envconfig:"MAX_BODY_BYTES" default:"65536" validate:"min=1024"`

	// RequestTimeout bounds the work of a single request (evaluation included).
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5s" validate:"min=100ms"`

	// APIKeyHash is the hex SHA-256 of the admin key. Empty disables admin auth outside production.
	APIKeyHash string `envconfig:"API_KEY_HASH"`

	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// Address is the listen address, host:port.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *ServerConfig) Validate(environment string) error {
	if err := validatePort(c.Port, "api server"); err != nil {
		return err
	}
	if err := validateHost(c.Host, "api server"); err != nil {
		return err
	}

	if c.APIKeyHash != "" {
		if err := validateSHA256Hash(c.APIKeyHash); err != nil {
			return fmt.Errorf("invalid API key hash: %w", err)
		}
	}
	if c.TLSEnabled && (c.TLSCert == "" || c.TLSKey == "") {
		return errors.New("TLS enabled but cert or key file not specified")
	}

	if environment != EnvironmentProduction {
		return nil
	}
	if c.APIKeyHash == "" {
		return errors.New("API key hash is required in production environment")
	}
	if !c.TLSEnabled {
		return errors.New("TLS must be enabled in production environment")
	}
	return nil
}

func validateSHA256Hash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("SHA-256 hash must be 64 characters, got %d", len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("hash must be valid hexadecimal: %w", err)
	}
	return nil
}
