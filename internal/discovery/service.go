package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Service is one advertised HDM endpoint
type Service struct {
	// Instance is the advertised instance name (e.g., "front-sim")
	Instance string

	// Type is the service type it was found under (e.g., "_hdm._tcp")
	Type string

	// Hostname is the mDNS hostname (e.g., "till-3.local.")
	Hostname string

	// IP is the IPv4 address when one was announced, otherwise IPv6
	IP string

	// Port is the TCP port of the service
	Port int

	// Metadata contains the TXT record data
	Metadata map[string]string

	// DiscoveredAt is when the service was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the service
func (s *Service) String() string {
	return fmt.Sprintf("%s %s (%s) at %s", s.Type, s.Instance, s.Hostname, s.Addr())
}

// Addr returns host:port, suitable for net.Dial
func (s *Service) Addr() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(s.Port))
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (s *Service) GetMetadata(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}
