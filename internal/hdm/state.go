package hdm

import (
	"fmt"
	"time"

	"github.com/muurk/hdmctl/internal/protocol"
)

// State is a step of one request/response exchange
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateLoggingIn
	StateSending
	StateAwaitingResponse
	StateDecoding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateLoggingIn:
		return "logging_in"
	case StateSending:
		return "sending"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateDecoding:
		return "decoding"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets states appear by name in JSON events
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition is reported to the Observer on every state change
type Transition struct {
	Device    string        `json:"device"`
	SessionID string        `json:"session_id"`
	Code      protocol.Code `json:"code"`
	From      State         `json:"from"`
	To        State         `json:"to"`
	At        time.Time     `json:"at"`
}

// Observer receives state transitions. Observe is called synchronously on
// the calling goroutine and must not call back into the Client.
type Observer interface {
	Observe(Transition)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(Transition)

// Observe calls f(t)
func (f ObserverFunc) Observe(t Transition) { f(t) }

// exchange tracks the state of one Do call
type exchange struct {
	observer  Observer
	device    string
	sessionID string
	code      protocol.Code
	state     State
}

func (x *exchange) enter(to State) {
	from := x.state
	x.state = to
	if x.observer == nil {
		return
	}
	x.observer.Observe(Transition{
		Device:    x.device,
		SessionID: x.sessionID,
		Code:      x.code,
		From:      from,
		To:        to,
		At:        time.Now(),
	})
}
