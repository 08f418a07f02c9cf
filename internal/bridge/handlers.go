package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/hdmctl/internal/hdm"
	"github.com/muurk/hdmctl/internal/ledger"
	"github.com/muurk/hdmctl/internal/logging"
	"github.com/muurk/hdmctl/internal/protocol"
	"github.com/muurk/hdmctl/internal/version"
)

// maxBodySize bounds request bodies
const maxBodySize = 1 << 20

// requestError is a client mistake that never reached a device
type requestError struct {
	status  int
	kind    string
	message string
}

func (e *requestError) Error() string { return e.message }

func errUnknownDevice(name string) error {
	return &requestError{http.StatusNotFound, "unknown_device", fmt.Sprintf("device %q is not configured", name)}
}

func errBadRequest(format string, args ...any) error {
	return &requestError{http.StatusBadRequest, "bad_request", fmt.Sprintf(format, args...)}
}

type successResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

type errorResponse struct {
	Success  bool   `json:"success"`
	HDMError string `json:"hdm_error"`
	Kind     string `json:"kind"`
	Status   int    `json:"status,omitempty"` // Device status code
}

// statusRecorder captures the response status for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the WebSocket upgrader
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/errors", s.handleErrors)
	mux.HandleFunc("GET /api/ledger", s.handleLedger)
	mux.HandleFunc("POST /api/devices/{name}/login", s.handleLogin)
	mux.HandleFunc("POST /api/devices/{name}/receipts", s.handleReceipt)
	mux.HandleFunc("POST /api/devices/{name}/returns", s.handleReturn)
	mux.HandleFunc("POST /api/devices/{name}/time-sync", s.handleSyncTime)
	mux.HandleFunc("POST /api/devices/{name}/logout", s.handleLogout)
	mux.HandleFunc("GET /ws/events", s.handleEvents)
	return logRequests(mux)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, rec.status)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write response", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, successResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		writeJSON(w, reqErr.status, errorResponse{HDMError: reqErr.message, Kind: reqErr.kind})
		return
	}

	var hdmErr *protocol.Error
	if !errors.As(err, &hdmErr) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{HDMError: err.Error(), Kind: "internal"})
		return
	}

	resp := errorResponse{HDMError: hdmErr.HDMError(), Kind: hdmErr.Type.Kind()}
	if hdmErr.Type == protocol.ErrTypeDevice {
		resp.Status = int(hdmErr.Status)
	}
	writeJSON(w, httpStatus(hdmErr.Type), resp)
}

func httpStatus(t protocol.ErrorType) int {
	switch t {
	case protocol.ErrTypeConfig:
		return http.StatusBadRequest
	case protocol.ErrTypeProtocolTimeout:
		return http.StatusGatewayTimeout
	case protocol.ErrTypeDevice, protocol.ErrTypeConnectFailure, protocol.ErrTypeDecodeFailure,
		protocol.ErrTypeTransport, protocol.ErrTypeNoActiveConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadRequest("invalid request body: %v", err)
	}
	return nil
}

type healthView struct {
	Status   string       `json:"status"`
	Build    version.Info `json:"build"`
	Sessions []string     `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, healthView{
		Status:   "ok",
		Build:    version.Get(),
		Sessions: s.manager.Sessions(),
	})
}

type deviceView struct {
	Name       string    `json:"name"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	Cashier    int       `json:"cashier"`
	Department int       `json:"department,omitempty"`
	Mode       string    `json:"mode"`
	Seq        int       `json:"seq"`
	LastUsed   time.Time `json:"last_used,omitempty"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	names := s.registry.DeviceNames()
	views := make([]deviceView, 0, len(names))
	for _, name := range names {
		d := s.registry.GetDevice(name)
		if d == nil {
			continue
		}
		mode := hdm.ModeSimple
		if d.Mode != 0 {
			mode = hdm.ReceiptMode(d.Mode)
		}
		views = append(views, deviceView{
			Name:       name,
			Host:       d.Host,
			Port:       d.Port,
			Cashier:    d.Cashier,
			Department: d.Department,
			Mode:       mode.String(),
			Seq:        d.Seq,
			LastUsed:   d.LastUsed,
		})
	}
	writeData(w, views)
}

type errorCodeView struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	table := s.client.ErrorTable()
	codes := table.Codes()
	views := make([]errorCodeView, 0, len(codes))
	for _, code := range codes {
		views = append(views, errorCodeView{Code: int(code), Message: table.Lookup(code)})
	}
	writeData(w, views)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.Filter{Device: q.Get("device")}

	if v := q.Get("code"); v != "" {
		code, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			writeError(w, errBadRequest("code %q is not a message code", v))
			return
		}
		filter.Code = protocol.Code(code)
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, errBadRequest("limit %q is invalid", v))
			return
		}
		filter.Limit = limit
	}

	entries, err := s.ledger.Entries(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeData(w, entries)
}

// operationResult is the data of operations without a receipt
type operationResult struct {
	Device string `json:"device"`
	Seq    int    `json:"seq"`
}

// run executes op against the named device, records it in the ledger and
// persists the device sequence. The ledger stores the payload the device
// received, or request when nothing was sent.
func (s *Server) run(w http.ResponseWriter, r *http.Request, code protocol.Code, request any,
	op func(ctx context.Context, dev *hdm.Device) (*hdm.Receipt, error)) {
	name := r.PathValue("name")
	dev, err := s.device(name)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, sent := ledger.Capture(r.Context())
	receipt, err := op(ctx, dev)

	s.persistSequence(name, dev)
	if lerr := s.ledger.Record(ledger.NewEntry(dev, code, request, receipt, err).WithSent(sent())); lerr != nil {
		logging.Error("Failed to record operation", zap.String("device", name), zap.Error(lerr))
	}

	if err != nil {
		logging.Warn("Device operation failed",
			zap.String("device", name),
			zap.String("operation", code.String()),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}

	if receipt != nil {
		writeData(w, receipt)
		return
	}
	writeData(w, operationResult{Device: name, Seq: dev.Seq.Current()})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, protocol.CodeLogin, nil, func(ctx context.Context, dev *hdm.Device) (*hdm.Receipt, error) {
		return nil, s.client.Login(ctx, dev)
	})
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	var req hdm.ReceiptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.run(w, r, protocol.CodePrintReceipt, &req, func(ctx context.Context, dev *hdm.Device) (*hdm.Receipt, error) {
		return s.client.PrintReceipt(ctx, dev, &req)
	})
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req hdm.ReturnRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.run(w, r, protocol.CodePrintReturn, &req, func(ctx context.Context, dev *hdm.Device) (*hdm.Receipt, error) {
		return s.client.PrintReturn(ctx, dev, &req)
	})
}

func (s *Server) handleSyncTime(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, protocol.CodeSyncTime, nil, func(ctx context.Context, dev *hdm.Device) (*hdm.Receipt, error) {
		return nil, s.client.SyncTime(ctx, dev)
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, protocol.CodeLogout, nil, func(ctx context.Context, dev *hdm.Device) (*hdm.Receipt, error) {
		return nil, s.client.Logout(ctx, dev)
	})
}
