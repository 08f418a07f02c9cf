package bridge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/hdmctl/internal/config"
	"github.com/muurk/hdmctl/internal/discovery"
	"github.com/muurk/hdmctl/internal/hdm"
	"github.com/muurk/hdmctl/internal/ledger"
	"github.com/muurk/hdmctl/internal/logging"
	"github.com/muurk/hdmctl/internal/transport"
	"github.com/muurk/hdmctl/internal/version"
)

// DefaultAddr is where the bridge listens when Config.Addr is empty
const DefaultAddr = "127.0.0.1:8787"

// Config holds the bridge configuration
type Config struct {
	Addr     string // host:port to listen on
	CertPath string // Serve HTTPS when set, together with KeyPath
	KeyPath  string

	// Advertise announces the bridge over mDNS as Instance
	Advertise bool
	Instance  string

	// ConnectRetries and RetryInterval configure the device client
	ConnectRetries uint64
	RetryInterval  time.Duration

	// Passwords maps device names to passwords, taking precedence over
	// each device's password_env
	Passwords map[string]string
}

// Server is the HTTP bridge
type Server struct {
	config     *Config
	registry   *config.Registry
	manager    *transport.Manager
	client     *hdm.Client
	ledger     ledger.Ledger
	events     *eventHub
	tlsConfig  *tls.Config
	httpServer *http.Server
	listener   net.Listener
	advertiser *discovery.Advertiser

	mu      sync.Mutex
	devices map[string]*hdm.Device

	wg        sync.WaitGroup // WebSocket handlers
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a bridge serving the devices of registry through manager.
// A nil ledger is replaced by an in-memory one.
func New(cfg *Config, registry *config.Registry, manager *transport.Manager, l ledger.Ledger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("bridge: config is required")
	}
	if registry == nil {
		return nil, errors.New("bridge: registry is required")
	}
	if manager == nil {
		return nil, errors.New("bridge: transport manager is required")
	}
	if l == nil {
		l = ledger.NewMemoryLedger()
	}

	c := *cfg
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Instance == "" {
		c.Instance = "hdmctl"
	}

	table, err := registry.ErrorTable()
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	s := &Server{
		config:   &c,
		registry: registry,
		manager:  manager,
		ledger:   l,
		events:   newEventHub(),
		devices:  make(map[string]*hdm.Device),
		closing:  make(chan struct{}),
	}

	if c.CertPath != "" || c.KeyPath != "" {
		s.tlsConfig, err = NewTLSConfig(c.CertPath, c.KeyPath)
		if err != nil {
			return nil, err
		}
	}

	s.client = hdm.NewClient(manager,
		hdm.WithErrorTable(table),
		hdm.WithObserver(s.events),
		hdm.WithConnectRetries(c.ConnectRetries, c.RetryInterval),
	)

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the bridge's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Listen opens the listening socket without serving
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	if s.tlsConfig != nil {
		logging.Info("TLS Configuration", zap.Any("tls_info", GetTLSInfo(s.tlsConfig)))
		listener = tls.NewListener(listener, s.tlsConfig)
	}
	s.listener = listener
	return nil
}

// Addr returns the listening address, or nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve answers requests until Shutdown. It listens first if needed.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	if s.config.Advertise {
		port := s.listener.Addr().(*net.TCPAddr).Port
		adv, err := discovery.Advertise(s.config.Instance, discovery.ServiceBridge, port,
			[]string{"version=" + version.Version, "path=/api"})
		if err != nil {
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			s.advertiser = adv
		}
	}

	logging.Info("Bridge listening for requests",
		zap.String("addr", s.listener.Addr().String()),
		zap.Bool("tls", s.tlsConfig != nil),
		zap.Strings("devices", s.registry.DeviceNames()),
	)

	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge: %w", err)
	}
	return nil
}

// Start serves and blocks until ctx is done, a shutdown signal arrives or
// serving fails
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Serve()
	}()

	select {
	case <-sigChan:
		logging.Info("Shutdown signal received, stopping bridge...")
	case <-ctx.Done():
		logging.Info("Context cancelled, stopping bridge...")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully stops the bridge: it withdraws the mDNS record,
// closes event streams, lets in-flight requests finish and closes every
// device session
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down bridge...")

	s.advertiser.Shutdown()
	s.closeOnce.Do(func() { close(s.closing) })

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		logging.Warn("Shutdown timeout, forcing close", zap.Error(err))
		_ = s.httpServer.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("Event streams did not stop before the deadline")
	}

	s.manager.Shutdown()
	logging.Sync()
	return err
}

// device returns the long-lived protocol device for name
func (s *Server) device(name string) (*hdm.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dev, ok := s.devices[name]; ok {
		return dev, nil
	}

	settings := s.registry.GetDevice(name)
	if settings == nil {
		return nil, errUnknownDevice(name)
	}

	dev := settings.Connection(name)
	if pw, ok := s.config.Passwords[name]; ok {
		dev.Password = pw
	}
	s.devices[name] = dev
	return dev, nil
}

// persistSequence stores the device's sequence in the registry and saves
// it when the registry is file-backed
func (s *Server) persistSequence(name string, dev *hdm.Device) {
	if err := s.registry.RecordSequence(name, dev.Seq.Current()); err != nil {
		logging.Warn("Failed to record sequence", zap.String("device", name), zap.Error(err))
		return
	}
	if s.registry.Path() == "" {
		return
	}
	if err := s.registry.Save(); err != nil {
		logging.Error("Failed to save sequence",
			zap.String("device", name),
			zap.String("path", s.registry.Path()),
			zap.Error(err),
		)
	}
}
