package hdm

import (
	"context"
	"encoding/json"

	"github.com/muurk/hdmctl/internal/protocol"
)

// Sent describes a request as it was written to the device
type Sent struct {
	Code      protocol.Code
	SessionID string
	Seq       int             // Sequence value carried by the payload, 0 if it has none
	Payload   json.RawMessage // Plaintext JSON before encryption
}

// Trace hooks into the operations run with a context. Login exchanges are
// never reported because their payload holds the credentials.
type Trace struct {
	// Sent is called once the request frame has been written, before the
	// answer is read. It is not called when the exchange fails earlier.
	Sent func(Sent)
}

type traceKey struct{}

// WithTrace returns a context whose operations report to tr
func WithTrace(ctx context.Context, tr *Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, tr)
}

func traceFrom(ctx context.Context) *Trace {
	tr, _ := ctx.Value(traceKey{}).(*Trace)
	return tr
}

func (tr *Trace) sent(s Sent) {
	if tr == nil || tr.Sent == nil {
		return
	}
	tr.Sent(s)
}
