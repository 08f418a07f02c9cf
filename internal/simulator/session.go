package simulator

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/hdmctl/internal/keys"
	"github.com/muurk/hdmctl/internal/logging"
	"github.com/muurk/hdmctl/internal/protocol"
)

// Status codes the simulator answers with on its own
const (
	StatusPasswordError   protocol.Status = 101
	StatusSessionKeyError protocol.Status = 102
	StatusBadCredentials  protocol.Status = 111
	StatusNotLoggedIn     protocol.Status = 112
	StatusBadJSON         protocol.Status = 105
)

// Fault changes how the simulator answers one message code
type Fault struct {
	Status   protocol.Status // Answer with this status and an empty body
	Delay    time.Duration   // Wait before answering
	Garbage  bool            // Answer 200 with a body that cannot be opened
	Drop     bool            // Close the connection instead of answering
	Fragment bool            // Write the answer one byte at a time
	NoKey    bool            // Login only: omit the connection key
}

// Received is one request the simulator accepted and decrypted
type Received struct {
	Code          protocol.Code
	ConnectionKey string          // Key that opened the payload (empty for login)
	Payload       json.RawMessage // Decrypted JSON
	RemoteAddr    string
	At            time.Time
}

// SetFault installs a fault for a message code
func (s *Server) SetFault(code protocol.Code, f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[uint8(code)] = f
}

// ClearFaults removes every installed fault
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[uint8]Fault)
}

// Received returns a copy of every request received so far
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Received, len(s.received))
	copy(out, s.received)
	return out
}

// ReceivedCodes returns the codes of every request received so far, in order
func (s *Server) ReceivedCodes() []protocol.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := make([]protocol.Code, len(s.received))
	for i, r := range s.received {
		codes[i] = r.Code
	}
	return codes
}

func (s *Server) fault(code protocol.Code) (Fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.faults[uint8(code)]
	return f, ok
}

func (s *Server) record(r Received) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, r)
}

func (s *Server) nextReceiptSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rseq++
	return s.rseq
}

// session is one client connection. The connection key lives as long as
// the connection, like on the device.
type session struct {
	server     *Server
	conn       net.Conn
	remoteAddr string
	key        string
}

type loginRequest struct {
	Password string `json:"password"`
	Cashier  int    `json:"cashier"`
	PIN      string `json:"pin"`
}

// saleAmounts holds the fields the simulator needs from sale and return payloads
type saleAmounts struct {
	Mode             int     `json:"mode"`
	PaidAmount       float64 `json:"paidAmount"`
	PaidAmountCard   float64 `json:"paidAmountCard"`
	PrePaymentAmount float64 `json:"prePaymentAmount"`
	Items            []struct {
		Qty   float64 `json:"qty"`
		Price float64 `json:"price"`
	} `json:"items"`

	CashAmountForReturn       float64 `json:"cashAmountForReturn"`
	CardAmountForReturn       float64 `json:"cardAmountForReturn"`
	PrePaymentAmountForReturn float64 `json:"prePaymentAmountForReturn"`
}

type receiptResponse struct {
	RSeq   int     `json:"rseq"`
	Fiscal string  `json:"fiscal"`
	CRN    string  `json:"crn"`
	Total  float64 `json:"total"`
}

func (c *session) serve() error {
	for {
		req, err := protocol.ReadRequest(c.conn)
		if err != nil {
			return err
		}
		logging.Debug("Simulator received request",
			zap.String("remote_addr", c.remoteAddr),
			zap.String("code", req.Code.String()),
			zap.Int("payload_len", len(req.Payload)),
		)

		fault, hasFault := c.server.fault(req.Code)
		if hasFault && fault.Drop {
			return fmt.Errorf("dropping connection on %s", req.Code)
		}
		if hasFault && fault.Delay > 0 {
			time.Sleep(fault.Delay)
		}

		status, body := c.handle(req, fault, hasFault)
		if !req.Code.ExpectsResponse() {
			continue
		}
		if err := c.reply(status, body, fault.Fragment); err != nil {
			return err
		}
	}
}

// handle processes one request and returns the status and sealed body to send
func (c *session) handle(req *protocol.Request, fault Fault, hasFault bool) (protocol.Status, []byte) {
	if req.Code == protocol.CodeLogin {
		return c.handleLogin(req, fault, hasFault)
	}

	if c.key == "" {
		return StatusNotLoggedIn, nil
	}

	plain, err := keys.OpenSession(c.key, req.Payload)
	if err != nil {
		logging.Warn("Simulator could not open payload", zap.Error(err))
		return StatusSessionKeyError, nil
	}

	c.server.record(Received{
		Code:          req.Code,
		ConnectionKey: c.key,
		Payload:       json.RawMessage(plain),
		RemoteAddr:    c.remoteAddr,
		At:            time.Now(),
	})

	if hasFault && fault.Status != 0 {
		return fault.Status, nil
	}
	if hasFault && fault.Garbage {
		return protocol.StatusOK, []byte("garbage")
	}

	var resp any
	switch req.Code {
	case protocol.CodePrintReceipt, protocol.CodePrintReturn:
		var amounts saleAmounts
		if err := json.Unmarshal(plain, &amounts); err != nil {
			return StatusBadJSON, nil
		}
		rseq := c.server.nextReceiptSeq()
		resp = receiptResponse{
			RSeq:   rseq,
			Fiscal: fmt.Sprintf("%s%08d", c.server.config.CRN, rseq),
			CRN:    c.server.config.CRN,
			Total:  amounts.total(req.Code),
		}
	default:
		resp = struct{}{}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return protocol.Status(500), nil
	}
	sealed, err := keys.SealSession(c.key, out)
	if err != nil {
		return StatusSessionKeyError, nil
	}
	return protocol.StatusOK, sealed
}

func (c *session) handleLogin(req *protocol.Request, fault Fault, hasFault bool) (protocol.Status, []byte) {
	cfg := c.server.config

	plain, err := keys.OpenLogin(cfg.Password, req.Payload)
	if err != nil {
		return StatusPasswordError, nil
	}

	c.server.record(Received{
		Code:       req.Code,
		Payload:    json.RawMessage(plain),
		RemoteAddr: c.remoteAddr,
		At:         time.Now(),
	})

	var login loginRequest
	if err := json.Unmarshal(plain, &login); err != nil {
		return StatusBadJSON, nil
	}
	if login.Password != cfg.Password || login.Cashier != cfg.Cashier || login.PIN != cfg.PIN {
		return StatusBadCredentials, nil
	}

	if hasFault && fault.Status != 0 {
		return fault.Status, nil
	}
	if hasFault && fault.Garbage {
		return protocol.StatusOK, []byte("garbage")
	}

	var body []byte
	if hasFault && fault.NoKey {
		body = []byte(`{}`)
	} else {
		c.key = cfg.KeyFunc()
		body, _ = json.Marshal(keys.LoginResponse{Key: c.key})
	}

	sealed, err := keys.SealLogin(cfg.Password, body)
	if err != nil {
		return StatusPasswordError, nil
	}
	return protocol.StatusOK, sealed
}

func (c *session) reply(status protocol.Status, body []byte, fragment bool) error {
	frame, err := protocol.EncodeResponse(status, body)
	if err != nil {
		return err
	}
	logging.LogFrame("", "sent", fmt.Sprintf("status(%d)", status), frame)

	if !fragment {
		_, err = c.conn.Write(frame)
		return err
	}
	for i := range frame {
		if _, err := c.conn.Write(frame[i : i+1]); err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

func (a saleAmounts) total(code protocol.Code) float64 {
	if code == protocol.CodePrintReturn {
		return a.CashAmountForReturn + a.CardAmountForReturn + a.PrePaymentAmountForReturn
	}
	if paid := a.PaidAmount + a.PaidAmountCard + a.PrePaymentAmount; paid > 0 {
		return paid
	}
	var sum float64
	for _, item := range a.Items {
		sum += item.Qty * item.Price
	}
	return sum
}

func randomKey() string {
	raw := make([]byte, keys.KeySize)
	if _, err := rand.Read(raw); err != nil {
		panic(fmt.Sprintf("simulator: reading random key: %v", err))
	}
	return base64.StdEncoding.EncodeToString(raw)
}
