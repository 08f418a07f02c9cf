package hdm

import (
	"fmt"
	"sync"

	"github.com/muurk/hdmctl/internal/protocol"
)

// Session kinds. A device uses a "pos" session for sales and a separate
// "sync" session for clock synchronization.
const (
	SessionKindPOS  = "pos"
	SessionKindSync = "sync"
)

// SessionID builds a session id such as "pos_3" or "sync_3"
func SessionID(kind, owner string) string {
	return kind + "_" + owner
}

// ReceiptMode selects how the device builds a receipt
type ReceiptMode int

const (
	ModeSimple     ReceiptMode = 1 // Single amount on one department
	ModeItems      ReceiptMode = 2 // Itemized receipt
	ModePrepayment ReceiptMode = 3 // Advance payment
)

// Valid reports whether m is a mode the device accepts
func (m ReceiptMode) Valid() bool {
	return m >= ModeSimple && m <= ModePrepayment
}

func (m ReceiptMode) String() string {
	switch m {
	case ModeSimple:
		return "simple"
	case ModeItems:
		return "items"
	case ModePrepayment:
		return "prepayment"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Device holds the settings and session state for one fiscal printer
type Device struct {
	Name      string // Owner name used in session ids
	SessionID string // Sales session id; defaults to pos_<Name>
	Host      string
	Port      int
	Cashier   int
	Password  string
	PIN       string

	PaymentSystem int
	UseExtPOS     bool        // Card payments go through an external terminal
	Department    int         // Default department for simple receipts
	Mode          ReceiptMode // Default receipt mode

	Seq *Sequence

	// opMu serializes whole operations on the device
	opMu sync.Mutex

	// keyMu protects connectionKey
	keyMu         sync.RWMutex
	connectionKey string
}

// NewDevice creates a device with the default session id and a sequence
// starting at 1
func NewDevice(name, host string, port int) *Device {
	return &Device{
		Name:      name,
		SessionID: SessionID(SessionKindPOS, name),
		Host:      host,
		Port:      port,
		Mode:      ModeSimple,
		Seq:       NewSequence(1),
	}
}

// Validate reports missing connection settings as a configuration error
func (d *Device) Validate() error {
	switch {
	case d == nil:
		return protocol.NewConfigError("device is not configured")
	case d.Host == "":
		return protocol.NewConfigError("HDM host is not set")
	case d.Port <= 0 || d.Port > 65535:
		return protocol.NewConfigError(fmt.Sprintf("HDM port %d is invalid", d.Port))
	case d.Password == "":
		return protocol.NewConfigError("HDM password is not set")
	case d.Cashier < 0:
		return protocol.NewConfigError(fmt.Sprintf("cashier id %d is invalid", d.Cashier))
	}
	return nil
}

// ConnectionKey returns the key issued by the last successful login, or ""
func (d *Device) ConnectionKey() string {
	d.keyMu.RLock()
	defer d.keyMu.RUnlock()
	return d.connectionKey
}

// SetConnectionKey stores the key issued by the device
func (d *Device) SetConnectionKey(key string) {
	d.keyMu.Lock()
	defer d.keyMu.Unlock()
	d.connectionKey = key
}

// ClearConnectionKey invalidates the key. Called whenever the transport closes.
func (d *Device) ClearConnectionKey() {
	d.SetConnectionKey("")
}

func (d *Device) sessionID(kind string) string {
	if kind == SessionKindPOS && d.SessionID != "" {
		return d.SessionID
	}
	return SessionID(kind, d.Name)
}

func (d *Device) lock() func() {
	d.opMu.Lock()
	return d.opMu.Unlock
}

// sequence returns Seq, creating it for devices built without NewDevice
func (d *Device) sequence() *Sequence {
	d.keyMu.Lock()
	defer d.keyMu.Unlock()
	if d.Seq == nil {
		d.Seq = NewSequence(1)
	}
	return d.Seq
}

func (d *Device) addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}
