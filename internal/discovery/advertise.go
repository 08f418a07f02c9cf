package discovery

import (
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/muurk/hdmctl/internal/logging"
	"go.uber.org/zap"
)

// Advertiser announces one service instance until Shutdown
type Advertiser struct {
	server   *zeroconf.Server
	instance string
	service  string
}

// Advertise registers instance under the given service type on all
// multicast-capable interfaces
func Advertise(instance, service string, port int, txt []string) (*Advertiser, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name is required")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("port %d is invalid", port)
	}

	server, err := zeroconf.Register(instance, service, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logging.Info("Advertising service over mDNS",
		zap.String("instance", instance),
		zap.String("service", service),
		zap.Int("port", port),
		zap.Strings("txt", txt),
	)

	return &Advertiser{server: server, instance: instance, service: service}, nil
}

// Shutdown withdraws the announcement
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	logging.Debug("Stopped mDNS advertisement",
		zap.String("instance", a.instance),
		zap.String("service", a.service),
	)
}
