package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// Error types for HDM device communication

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeConnectFailure indicates a socket-level connect error, DNS failure or connect timeout
	ErrTypeConnectFailure ErrorType = iota
	// ErrTypeNoActiveConnection indicates a close or send for a session with no registered transport
	ErrTypeNoActiveConnection
	// ErrTypeDecodeFailure indicates a malformed frame, bad decrypt or unparsable JSON
	ErrTypeDecodeFailure
	// ErrTypeDevice indicates a non-200 status from the device
	ErrTypeDevice
	// ErrTypeProtocolTimeout indicates no response within the I/O timeout
	ErrTypeProtocolTimeout
	// ErrTypeTransport indicates an unexpected I/O failure while sending or receiving
	ErrTypeTransport
	// ErrTypeConfig indicates invalid device settings (missing host, port, credentials)
	ErrTypeConfig
)

// ErrNoActiveConnection is matched by errors.Is for NoActiveConnection errors
var ErrNoActiveConnection = errors.New("no active connection")

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeConnectFailure:
		return "Connect Failure"
	case ErrTypeNoActiveConnection:
		return "No Active Connection"
	case ErrTypeDecodeFailure:
		return "Decode Failure"
	case ErrTypeDevice:
		return "Device Error"
	case ErrTypeProtocolTimeout:
		return "Protocol Timeout"
	case ErrTypeTransport:
		return "Transport Error"
	case ErrTypeConfig:
		return "Configuration Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Kind returns a stable snake_case identifier, used in JSON responses
func (et ErrorType) Kind() string {
	switch et {
	case ErrTypeConnectFailure:
		return "connect_failure"
	case ErrTypeNoActiveConnection:
		return "no_active_connection"
	case ErrTypeDecodeFailure:
		return "decode_failure"
	case ErrTypeDevice:
		return "device_error"
	case ErrTypeProtocolTimeout:
		return "protocol_timeout"
	case ErrTypeTransport:
		return "transport_error"
	case ErrTypeConfig:
		return "config_error"
	default:
		return "unknown"
	}
}

// Error represents a failed HDM operation. Every failure produced by the
// transport and the request engine is an *Error.
type Error struct {
	Type      ErrorType // Category of error
	Message   string    // Human-readable error message
	Status    Status    // Device status code (ErrTypeDevice only)
	SessionID string    // Session the failure belongs to, if known
	Err       error     // Underlying error (if any)
	Retryable bool      // Whether the caller may retry the operation
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNoActiveConnection) match NoActiveConnection errors
func (e *Error) Is(target error) bool {
	return target == ErrNoActiveConnection && e.Type == ErrTypeNoActiveConnection
}

// HDMError renders the error in the "<code>: <message>" shape the UI layer
// displays. Device errors carry their status code; other errors only the message.
func (e *Error) HDMError() string {
	if e.Type == ErrTypeDevice {
		return fmt.Sprintf("%d: %s", e.Status, e.Message)
	}
	return e.Message
}

// WithSession returns the error annotated with a session id
func (e *Error) WithSession(sessionID string) *Error {
	e.SessionID = sessionID
	return e
}

// ClassifyNetworkError analyzes a dial error and returns a ConnectFailure
// with a message describing the cause.
func ClassifyNetworkError(err error, addr string) *Error {
	if err == nil {
		return nil
	}

	// Already classified
	var hdmErr *Error
	if errors.As(err, &hdmErr) {
		return hdmErr
	}

	// Check for timeout errors
	if isTimeout(err) {
		return &Error{
			Type:      ErrTypeConnectFailure,
			Message:   fmt.Sprintf("connection to %s timed out", addr),
			Err:       err,
			Retryable: true,
		}
	}

	// Check for DNS errors
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{
			Type:      ErrTypeConnectFailure,
			Message:   fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name),
			Err:       err,
			Retryable: false,
		}
	}

	// Check for connection refused / unreachable
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			return &Error{
				Type:      ErrTypeConnectFailure,
				Message:   fmt.Sprintf("device at %s refused connection", addr),
				Err:       err,
				Retryable: true,
			}
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return &Error{
				Type:      ErrTypeConnectFailure,
				Message:   fmt.Sprintf("host %s unreachable", addr),
				Err:       err,
				Retryable: true,
			}
		case errors.Is(opErr.Err, syscall.ENETUNREACH):
			return &Error{
				Type:      ErrTypeConnectFailure,
				Message:   fmt.Sprintf("network unreachable for %s", addr),
				Err:       err,
				Retryable: true,
			}
		}
	}

	// Generic connect error
	return &Error{
		Type:      ErrTypeConnectFailure,
		Message:   fmt.Sprintf("unable to connect to %s", addr),
		Err:       err,
		Retryable: true,
	}
}

// ClassifyIOError maps a send/receive failure to ProtocolTimeout,
// DecodeFailure or Transport.
func ClassifyIOError(err error, op string) *Error {
	if err == nil {
		return nil
	}

	var hdmErr *Error
	if errors.As(err, &hdmErr) {
		return hdmErr
	}

	if isTimeout(err) {
		return &Error{
			Type:      ErrTypeProtocolTimeout,
			Message:   fmt.Sprintf("timed out during %s", op),
			Err:       err,
			Retryable: true,
		}
	}

	// A frame cut short is a malformed frame, not a broken socket
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return NewDecodeError(fmt.Sprintf("truncated frame during %s", op), err)
	}

	return &Error{
		Type:      ErrTypeTransport,
		Message:   fmt.Sprintf("%s failed", op),
		Err:       err,
		Retryable: true,
	}
}

// isTimeout looks through wrapped errors for a deadline or timeout
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || os.IsTimeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// NewNoActiveConnectionError creates a NoActiveConnection error for a session
func NewNoActiveConnectionError(sessionID string) *Error {
	return &Error{
		Type:      ErrTypeNoActiveConnection,
		Message:   fmt.Sprintf("no active connection for id: %s", sessionID),
		SessionID: sessionID,
		Retryable: false,
	}
}

// NewDecodeError creates a decode error
func NewDecodeError(message string, err error) *Error {
	return &Error{
		Type:      ErrTypeDecodeFailure,
		Message:   message,
		Err:       err,
		Retryable: false,
	}
}

// NewDeviceError creates an error for a non-200 device status
func NewDeviceError(status Status, message string) *Error {
	return &Error{
		Type:      ErrTypeDevice,
		Message:   message,
		Status:    status,
		Retryable: status >= 500,
	}
}

// NewConfigError creates a configuration (validation) error
func NewConfigError(message string) *Error {
	return &Error{
		Type:      ErrTypeConfig,
		Message:   message,
		Retryable: false,
	}
}

// TypeOf returns the error type of err, and false if err is not an *Error
func TypeOf(err error) (ErrorType, bool) {
	var hdmErr *Error
	if errors.As(err, &hdmErr) {
		return hdmErr.Type, true
	}
	return 0, false
}

func isType(err error, t ErrorType) bool {
	got, ok := TypeOf(err)
	return ok && got == t
}

// IsConnectFailure checks if an error is a connect failure
func IsConnectFailure(err error) bool { return isType(err, ErrTypeConnectFailure) }

// IsNoActiveConnection checks if an error reports a missing transport
func IsNoActiveConnection(err error) bool { return isType(err, ErrTypeNoActiveConnection) }

// IsDecodeFailure checks if an error is a decode failure
func IsDecodeFailure(err error) bool { return isType(err, ErrTypeDecodeFailure) }

// IsDeviceError checks if an error is a non-200 device status
func IsDeviceError(err error) bool { return isType(err, ErrTypeDevice) }

// IsProtocolTimeout checks if an error is a protocol timeout
func IsProtocolTimeout(err error) bool { return isType(err, ErrTypeProtocolTimeout) }

// IsConfigError checks if an error is a configuration error
func IsConfigError(err error) bool { return isType(err, ErrTypeConfig) }

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var hdmErr *Error
	if errors.As(err, &hdmErr) {
		return hdmErr.Retryable
	}
	// Unknown errors are not retryable by default
	return false
}

// TroubleshootingHint returns operator advice for an error
func TroubleshootingHint(err error) string {
	var hdmErr *Error
	if !errors.As(err, &hdmErr) {
		return "An unexpected error occurred. Please try again."
	}

	switch hdmErr.Type {
	case ErrTypeConnectFailure:
		return strings.Join([]string{
			"Unable to connect to the HDM.",
			"Troubleshooting:",
			"  • Check that the device is powered on and on the network",
			"  • Verify the HOST and PORT settings",
			"  • Make sure no other register holds the device connection",
		}, "\n")
	case ErrTypeProtocolTimeout:
		return strings.Join([]string{
			"The HDM did not answer in time.",
			"Troubleshooting:",
			"  • Check the printer for paper or a pending error",
			"  • Try increasing the I/O timeout",
		}, "\n")
	case ErrTypeDevice:
		return fmt.Sprintf("The HDM rejected the request (%s).", hdmErr.HDMError())
	case ErrTypeDecodeFailure:
		return strings.Join([]string{
			"Failed to decode the HDM response.",
			"Troubleshooting:",
			"  • Verify the device password",
			"  • Check that the device speaks protocol version 5",
		}, "\n")
	case ErrTypeConfig:
		return "The device settings are incomplete. Check host, port, cashier and password."
	default:
		return "An error occurred. Please check the error message for details."
	}
}
