package simulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/hdmctl/internal/logging"
)

// DefaultCRN is the cash register number used when Config.CRN is empty
const DefaultCRN = "53219876"

// Config holds the simulated device configuration
type Config struct {
	Host     string
	Port     int    // 0 picks a free port
	Password string // Device password, also the login key material
	Cashier  int
	PIN      string

	// CRN is the cash register number reported in receipts
	CRN string

	// KeyFunc issues a connection key per login. Defaults to base64 of 24
	// random bytes, which is what a real device issues.
	KeyFunc func() string
}

// Server is a simulated HDM device speaking the device side of the protocol
type Server struct {
	config   *Config
	listener net.Listener
	wg       sync.WaitGroup

	mu          sync.Mutex
	activeConns map[string]net.Conn
	maxActive   int
	accepted    int
	faults      map[uint8]Fault
	received    []Received
	rseq        int
}

// New creates a simulator. It does not listen until Listen or Start is called.
func New(config *Config) (*Server, error) {
	if config == nil {
		return nil, errors.New("simulator: config is required")
	}
	if config.Password == "" {
		return nil, errors.New("simulator: password is required")
	}

	cfg := *config
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.CRN == "" {
		cfg.CRN = DefaultCRN
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = randomKey
	}

	return &Server{
		config:      &cfg,
		activeConns: make(map[string]net.Conn),
		faults:      make(map[uint8]Fault),
	}, nil
}

// Listen binds the listener and starts accepting connections in the background
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener

	logging.Info("Simulator listening for connections",
		zap.String("addr", listener.Addr().String()),
		zap.Int("cashier", s.config.Cashier),
	)

	go func() {
		if err := s.acceptConnections(); err != nil {
			logging.Error("Accept loop stopped", zap.Error(err))
		}
	}()
	return nil
}

// Start listens and blocks until SIGINT/SIGTERM or ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Wait(ctx)
}

// Wait blocks a listening simulator until SIGINT/SIGTERM or ctx is
// cancelled, then shuts it down
func (s *Server) Wait(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		logging.Info("Shutdown signal received, stopping simulator...")
	case <-ctx.Done():
	}
	return s.Shutdown(context.Background())
}

// Addr returns the listener address, or nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HostPort returns the host and port clients should dial
func (s *Server) HostPort() (string, int) {
	addr, ok := s.Addr().(*net.TCPAddr)
	if !ok {
		return s.config.Host, s.config.Port
	}
	return addr.IP.String(), addr.Port
}

func (s *Server) acceptConnections() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logging.Error("Failed to accept connection", zap.Error(err))
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()

	s.mu.Lock()
	s.activeConns[remoteAddr] = conn
	s.accepted++
	if len(s.activeConns) > s.maxActive {
		s.maxActive = len(s.activeConns)
	}
	s.mu.Unlock()

	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.activeConns, remoteAddr)
		s.mu.Unlock()
		logging.LogConnection("", remoteAddr, "connection_closed")
	}()

	logging.LogConnection("", remoteAddr, "connection_accepted")

	sess := &session{server: s, conn: conn, remoteAddr: remoteAddr}
	if err := sess.serve(); err != nil {
		logging.Debug("Session ended",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
	}
}

// Shutdown stops accepting connections and closes the active ones
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down simulator...")

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logging.Error("Error closing listener", zap.Error(err))
		}
	}

	s.mu.Lock()
	for addr, conn := range s.activeConns {
		logging.Debug("Closing active connection", zap.String("remote_addr", addr))
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
	case <-time.After(10 * time.Second):
		logging.Warn("Shutdown timeout after 10 seconds, forcing close")
	}
	return nil
}

// ActiveConnections returns the number of open client connections
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}

// MaxConcurrentConnections returns the highest number of simultaneously
// open client connections seen so far
func (s *Server) MaxConcurrentConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}

// AcceptedConnections returns how many connections were accepted in total
func (s *Server) AcceptedConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}
