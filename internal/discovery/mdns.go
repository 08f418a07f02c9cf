package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceDevice is the mDNS service type of device-protocol endpoints
	ServiceDevice = "_hdm._tcp"

	// ServiceBridge is the mDNS service type of hdmctl HTTP bridges
	ServiceBridge = "_hdm-bridge._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for service discovery
	DefaultScanTimeout = 5 * time.Second
)

// Scanner handles mDNS service discovery
type Scanner struct {
	// Service is the service type to browse for
	Service string

	// Timeout is the maximum time to wait for answers
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner for one service type
func NewScanner(service string) *Scanner {
	return &Scanner{
		Service: service,
		Timeout: DefaultScanTimeout,
	}
}

// Scan collects every instance answering within the timeout, sorted by
// instance name. Instances announced more than once are reported once.
func (s *Scanner) Scan(ctx context.Context) ([]*Service, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)

	var mu sync.Mutex
	found := make(map[string]*Service)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			svc := s.parseServiceEntry(entry)
			if svc == nil {
				continue
			}
			mu.Lock()
			found[svc.Instance] = svc
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, s.Service, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	services := make([]*Service, 0, len(found))
	for _, svc := range found {
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Instance < services[j].Instance })
	return services, nil
}

// Find waits for a specific instance and returns as soon as it answers
func (s *Scanner) Find(ctx context.Context, instance string) (*Service, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	serviceChan := make(chan *Service, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			svc := s.parseServiceEntry(entry)
			if svc != nil && svc.Instance == instance {
				serviceChan <- svc
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, s.Service, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case svc := <-serviceChan:
		return svc, nil
	case <-ctx.Done():
		// The match may have landed together with the cancel
		select {
		case svc := <-serviceChan:
			return svc, nil
		default:
		}
		return nil, fmt.Errorf("%s instance %q not found within %s", s.Service, instance, s.Timeout)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Service.
// Returns nil for entries without an instance name or an address.
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry) *Service {
	if entry == nil || entry.Instance == "" {
		return nil
	}

	// Get IP address (prefer IPv4)
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" || entry.Port == 0 {
		return nil
	}

	return &Service{
		Instance:     entry.Instance,
		Type:         s.Service,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Metadata:     parseTXT(entry.Text),
		DiscoveredAt: time.Now(),
	}
}

// parseTXT splits "key=value" records; a bare key maps to ""
func parseTXT(records []string) map[string]string {
	metadata := make(map[string]string, len(records))
	for _, txt := range records {
		parts := strings.SplitN(txt, "=", 2)
		if parts[0] == "" {
			continue
		}
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}
	return metadata
}
