package bridge

import (
	"crypto/tls"
	"fmt"

	"github.com/muurk/hdmctl/internal/logging"
	"go.uber.org/zap"
)

// NewTLSConfig creates a TLS configuration for the bridge listener from a
// PEM certificate and key
func NewTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	logging.Info("TLS configuration created from files",
		zap.String("cert", certPath),
		zap.String("key", keyPath),
	)

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// GetTLSInfo returns human-readable information about the TLS configuration
func GetTLSInfo(config *tls.Config) map[string]interface{} {
	info := make(map[string]interface{})

	info["min_version"] = tls.VersionName(config.MinVersion)
	if config.MaxVersion != 0 {
		info["max_version"] = tls.VersionName(config.MaxVersion)
	}
	info["certificates"] = len(config.Certificates)

	return info
}
