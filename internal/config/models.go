package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/muurk/hdmctl/internal/hdm"
	"github.com/muurk/hdmctl/internal/protocol"
)

// CurrentVersion is the config file format version
const CurrentVersion = 1

// Registry represents the entire configuration file: the fiscal devices this
// host talks to, status message overrides and application preferences.
type Registry struct {
	Version     int                `yaml:"version" toml:"version"`
	Devices     map[string]*Device `yaml:"devices,omitempty" toml:"devices,omitempty"` // Keyed by device name
	ErrorCodes  map[string]string  `yaml:"error_codes,omitempty" toml:"error_codes,omitempty"`
	Preferences *Preferences       `yaml:"preferences,omitempty" toml:"preferences,omitempty"`

	path string
	mu   sync.Mutex
}

// Device holds the connection settings of one fiscal printer.
// The password is not stored: it comes from PasswordEnv or a prompt.
type Device struct {
	Host          string    `yaml:"host" toml:"host"`
	Port          int       `yaml:"port" toml:"port"`
	Cashier       int       `yaml:"cashier" toml:"cashier"`
	PIN           string    `yaml:"pin,omitempty" toml:"pin,omitempty"`
	PasswordEnv   string    `yaml:"password_env,omitempty" toml:"password_env,omitempty"` // Environment variable holding the password
	PaymentSystem int       `yaml:"payment_system,omitempty" toml:"payment_system,omitempty"`
	UseExtPOS     bool      `yaml:"use_ext_pos,omitempty" toml:"use_ext_pos,omitempty"`
	Department    int       `yaml:"department,omitempty" toml:"department,omitempty"`
	Mode          int       `yaml:"mode,omitempty" toml:"mode,omitempty"`
	Seq           int       `yaml:"seq" toml:"seq"` // Next sequence number
	LastUsed      time.Time `yaml:"last_used,omitempty" toml:"last_used,omitempty"`
}

// Preferences represents application-wide settings. Durations use Go syntax
// ("10s", "1m").
type Preferences struct {
	ConnectTimeout  string `yaml:"connect_timeout,omitempty" toml:"connect_timeout,omitempty"`
	IOTimeout       string `yaml:"io_timeout,omitempty" toml:"io_timeout,omitempty"`
	ConnectRetries  int    `yaml:"connect_retries" toml:"connect_retries"`
	DiscoverTimeout int    `yaml:"discover_timeout" toml:"discover_timeout"` // Seconds
	LedgerPath      string `yaml:"ledger_path,omitempty" toml:"ledger_path,omitempty"`
	BridgeAddr      string `yaml:"bridge_addr,omitempty" toml:"bridge_addr,omitempty"`
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     CurrentVersion,
		Devices:     make(map[string]*Device),
		ErrorCodes:  make(map[string]string),
		Preferences: defaultPreferences(),
	}
}

func defaultPreferences() *Preferences {
	return &Preferences{
		ConnectTimeout:  "10s",
		IOTimeout:       "10s",
		ConnectRetries:  2,
		DiscoverTimeout: 5,
		BridgeAddr:      "127.0.0.1:8787",
	}
}

// Path returns the file the registry was loaded from and saves to
func (r *Registry) Path() string {
	return r.path
}

// GetDevice retrieves device settings by name.
// Returns nil if the device doesn't exist in the registry.
func (r *Registry) GetDevice(name string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Devices[name]
}

// SetDevice adds or replaces a device after validating its settings.
// An existing device keeps its sequence number unless d sets one.
func (r *Registry) SetDevice(name string, d *Device) error {
	if strings.TrimSpace(name) == "" {
		return protocol.NewConfigError("device name is required")
	}
	if strings.ContainsAny(name, " /\t") {
		return protocol.NewConfigError(fmt.Sprintf("device name %q must not contain spaces or slashes", name))
	}
	if err := d.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}
	if existing, ok := r.Devices[name]; ok && d.Seq == 0 {
		d.Seq = existing.Seq
	}
	if d.Seq < 1 {
		d.Seq = 1
	}
	r.Devices[name] = d
	return nil
}

// RemoveDevice deletes a device. It reports whether the device existed.
func (r *Registry) RemoveDevice(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.Devices[name]
	delete(r.Devices, name)
	return ok
}

// DeviceNames returns the configured device names, sorted
func (r *Registry) DeviceNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.Devices))
	for name := range r.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RecordSequence stores the sequence number a device reached
func (r *Registry) RecordSequence(name string, seq int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.Devices[name]
	if !ok {
		return protocol.NewConfigError(fmt.Sprintf("unknown device %q", name))
	}
	d.Seq = seq
	d.LastUsed = time.Now().UTC()
	return nil
}

// ErrorTable returns the default status table with the file's overrides
func (r *Registry) ErrorTable() (*protocol.ErrorTable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	overrides := make(map[int]string, len(r.ErrorCodes))
	for key, msg := range r.ErrorCodes {
		code, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || code < 0 || code > 0xFFFF {
			return nil, protocol.NewConfigError(fmt.Sprintf("error_codes: %q is not a status code", key))
		}
		overrides[code] = msg
	}
	return protocol.DefaultErrorTable().WithOverrides(overrides), nil
}

// Connection builds the protocol-level device for name. The password is read
// from PasswordEnv when set; otherwise it is left empty for the caller to fill.
func (d *Device) Connection(name string) *hdm.Device {
	dev := hdm.NewDevice(name, d.Host, d.Port)
	dev.Cashier = d.Cashier
	dev.PIN = d.PIN
	dev.PaymentSystem = d.PaymentSystem
	dev.UseExtPOS = d.UseExtPOS
	dev.Department = d.Department
	if d.Mode != 0 {
		dev.Mode = hdm.ReceiptMode(d.Mode)
	}
	if d.PasswordEnv != "" {
		dev.Password = os.Getenv(d.PasswordEnv)
	}
	dev.Seq = hdm.NewSequence(d.Seq)
	return dev
}

func (d *Device) validate() error {
	switch {
	case d == nil:
		return protocol.NewConfigError("device settings are required")
	case d.Host == "":
		return protocol.NewConfigError("host is required")
	case d.Port <= 0 || d.Port > 65535:
		return protocol.NewConfigError(fmt.Sprintf("port %d is invalid", d.Port))
	case d.Cashier < 0:
		return protocol.NewConfigError(fmt.Sprintf("cashier %d is invalid", d.Cashier))
	case d.Mode != 0 && !hdm.ReceiptMode(d.Mode).Valid():
		return protocol.NewConfigError(fmt.Sprintf("receipt mode %d is invalid", d.Mode))
	}
	return nil
}

// Durations parses the timeout preferences, falling back to zero (the
// transport defaults) for empty values.
func (p *Preferences) Durations() (connect, io time.Duration, err error) {
	if p == nil {
		return 0, 0, nil
	}
	if p.ConnectTimeout != "" {
		if connect, err = time.ParseDuration(p.ConnectTimeout); err != nil {
			return 0, 0, fmt.Errorf("parse connect_timeout: %w", err)
		}
	}
	if p.IOTimeout != "" {
		if io, err = time.ParseDuration(p.IOTimeout); err != nil {
			return 0, 0, fmt.Errorf("parse io_timeout: %w", err)
		}
	}
	return connect, io, nil
}
