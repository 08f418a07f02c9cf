package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/muurk/hdmctl/internal/hdm"
	"github.com/muurk/hdmctl/internal/protocol"
)

// subscriberBuffer is how many entries a slow subscriber may fall behind
// before new entries are dropped for it
const subscriberBuffer = 64

// Entry is one recorded operation
type Entry struct {
	Time      time.Time       `json:"time"`
	Device    string          `json:"device"`
	SessionID string          `json:"session_id"`
	Code      protocol.Code   `json:"code"`
	Operation string          `json:"operation"`
	Seq       int             `json:"seq,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Receipt   *hdm.Receipt    `json:"receipt,omitempty"`
}

// Filter narrows the result of Entries. Zero values match everything.
type Filter struct {
	Device string
	Code   protocol.Code
	Limit  int // Most recent N entries
}

func (f Filter) match(e Entry) bool {
	if f.Device != "" && e.Device != f.Device {
		return false
	}
	if f.Code != 0 && e.Code != f.Code {
		return false
	}
	return true
}

func (f Filter) apply(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Ledger records operations and lets callers read or follow them
type Ledger interface {
	Record(e Entry) error
	Entries(f Filter) ([]Entry, error)
	// Subscribe returns a channel of newly recorded entries and a cancel
	// function that closes it.
	Subscribe() (<-chan Entry, func())
}

// NewEntry builds the ledger entry for a finished operation. request is
// stored as JSON until WithSent replaces it with what the device received;
// receipt and err describe the outcome.
func NewEntry(dev *hdm.Device, code protocol.Code, request any, receipt *hdm.Receipt, err error) Entry {
	e := Entry{
		Time:      time.Now().UTC(),
		Code:      code,
		Operation: code.String(),
		Success:   err == nil,
		Receipt:   receipt,
	}
	if dev != nil {
		e.Device = dev.Name
		e.SessionID = dev.SessionID
		if code == protocol.CodeSyncTime {
			e.SessionID = hdm.SessionID(hdm.SessionKindSync, dev.Name)
		}
	}
	if request != nil {
		if data, mErr := json.Marshal(request); mErr == nil {
			e.Request = data
		}
	}
	if err != nil {
		e.Error = err.Error()
		var hdmErr *protocol.Error
		if errors.As(err, &hdmErr) {
			e.Error = hdmErr.HDMError()
			e.ErrorKind = hdmErr.Type.Kind()
		}
	}
	return e
}

// WithSent stores the request as the device received it. A nil sent leaves
// e alone, so operations that failed before sending keep the caller's
// request and no Seq.
func (e Entry) WithSent(sent *hdm.Sent) Entry {
	if sent == nil {
		return e
	}
	e.Seq = sent.Seq
	e.SessionID = sent.SessionID
	if len(sent.Payload) > 0 {
		e.Request = append(json.RawMessage(nil), sent.Payload...)
	}
	return e
}

// Capture returns a context that remembers the last request sent under it,
// and a function returning that request or nil when none reached the device
func Capture(ctx context.Context) (context.Context, func() *hdm.Sent) {
	var (
		mu   sync.Mutex
		last *hdm.Sent
	)
	ctx = hdm.WithTrace(ctx, &hdm.Trace{Sent: func(s hdm.Sent) {
		mu.Lock()
		last = &s
		mu.Unlock()
	}})
	return ctx, func() *hdm.Sent {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

// hub fans entries out to subscribers
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Entry
}

func (h *hub) subscribe() (<-chan Entry, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs == nil {
		h.subs = make(map[int]chan Entry)
	}
	id := h.nextID
	h.nextID++
	ch := make(chan Entry, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *hub) publish(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// MemoryLedger keeps entries in memory
type MemoryLedger struct {
	mu      sync.Mutex
	entries []Entry
	hub     hub
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Record appends e
func (m *MemoryLedger) Record(e Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	m.hub.publish(e)
	return nil
}

// Entries returns the recorded entries matching f, oldest first
func (m *MemoryLedger) Entries(f Filter) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f.apply(m.entries), nil
}

// Subscribe follows newly recorded entries
func (m *MemoryLedger) Subscribe() (<-chan Entry, func()) {
	return m.hub.subscribe()
}
