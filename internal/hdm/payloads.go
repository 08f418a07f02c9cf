package hdm

import (
	"encoding/json"
	"fmt"

	"github.com/muurk/hdmctl/internal/protocol"
)

// loginRequest is the plaintext of a login message
type loginRequest struct {
	Password string `json:"password"`
	Cashier  int    `json:"cashier"`
	PIN      string `json:"pin"`
}

// sequenced payloads get their "seq" from the device inside the engine.
// assignSeq returns the value the payload will carry.
type sequenced interface {
	assignSeq(s *Sequence) int
}

// seqRequest is the payload of logout and time sync messages
type seqRequest struct {
	Seq  int `json:"seq"`
	bump bool
}

func (r *seqRequest) assignSeq(s *Sequence) int {
	if r.bump {
		r.Seq = s.Bump()
	} else {
		r.Seq = s.Current()
	}
	return r.Seq
}

// Item is one line of an itemized receipt
type Item struct {
	Dep          int     `json:"dep"`
	AdgCode      string  `json:"adgCode"` // Classifier code
	ProductCode  string  `json:"productCode"`
	ProductName  string  `json:"productName"`
	Qty          float64 `json:"qty"`
	Unit         string  `json:"unit"`
	Price        float64 `json:"price"`
	DiscountType int     `json:"discountType,omitempty"`
	Discount     float64 `json:"discount,omitempty"`
}

// ReceiptRequest is the payload of a print receipt message (code 4)
type ReceiptRequest struct {
	Mode             ReceiptMode `json:"mode"`
	Dep              int         `json:"dep,omitempty"` // Simple mode only
	Items            []Item      `json:"items"`
	PaidAmount       float64     `json:"paidAmount"`
	PaidAmountCard   float64     `json:"paidAmountCard"`
	PartialAmount    float64     `json:"partialAmount"`
	PrePaymentAmount float64     `json:"prePaymentAmount"`
	UseExtPOS        bool        `json:"useExtPOS"`
	EMarks           []string    `json:"eMarks"`
	PartnerTin       *string     `json:"partnerTin"`
	Seq              int         `json:"seq"`
}

// Validate checks the request before anything is sent
func (r *ReceiptRequest) Validate() error {
	if !r.Mode.Valid() {
		return protocol.NewConfigError(fmt.Sprintf("invalid receipt mode %d", int(r.Mode)))
	}
	if r.Mode == ModeItems && len(r.Items) == 0 {
		return protocol.NewConfigError("itemized receipt has no items")
	}
	if r.PaidAmount < 0 || r.PaidAmountCard < 0 || r.PartialAmount < 0 || r.PrePaymentAmount < 0 {
		return protocol.NewConfigError("receipt amounts must not be negative")
	}
	for i, item := range r.Items {
		if item.Qty <= 0 {
			return protocol.NewConfigError(fmt.Sprintf("item %d: quantity must be positive", i+1))
		}
		if item.Price < 0 {
			return protocol.NewConfigError(fmt.Sprintf("item %d: price must not be negative", i+1))
		}
	}
	return nil
}

func (r *ReceiptRequest) assignSeq(s *Sequence) int {
	if r.Seq == 0 {
		r.Seq = s.Current()
	}
	return r.Seq
}

// ReturnItem selects a line of the original receipt by position
type ReturnItem struct {
	RPID     int     `json:"rpid"`
	Quantity float64 `json:"quantity"`
}

// ReturnRequest is the payload of a print return message (code 6). Without
// ReturnItems the whole receipt is returned.
type ReturnRequest struct {
	CRN                       string       `json:"crn"`
	ReturnTicketID            string       `json:"returnTicketId"`
	Seq                       int          `json:"seq"`
	ReturnItems               []ReturnItem `json:"returnItemList,omitempty"`
	CashAmountForReturn       float64      `json:"cashAmountForReturn,omitempty"`
	CardAmountForReturn       float64      `json:"cardAmountForReturn,omitempty"`
	PrePaymentAmountForReturn float64      `json:"prePaymentAmountForReturn,omitempty"`
}

// Validate checks the request before anything is sent
func (r *ReturnRequest) Validate() error {
	if r.CRN == "" {
		return protocol.NewConfigError("return request has no CRN")
	}
	if r.ReturnTicketID == "" {
		return protocol.NewConfigError("return request has no original receipt number")
	}
	for _, item := range r.ReturnItems {
		if item.Quantity <= 0 {
			return protocol.NewConfigError(fmt.Sprintf("return item %d: quantity must be positive", item.RPID))
		}
	}
	return nil
}

func (r *ReturnRequest) assignSeq(s *Sequence) int {
	if r.Seq == 0 {
		r.Seq = s.Current()
	}
	return r.Seq
}

// Receipt is the device's answer to a receipt or return
type Receipt struct {
	RSeq   int     `json:"rseq"`
	Fiscal string  `json:"fiscal"`
	CRN    string  `json:"crn"`
	Total  float64 `json:"total"`
}

// Response is the decrypted result of one exchange. Body is nil for codes
// the device does not answer.
type Response struct {
	Code   protocol.Code   `json:"code"`
	Status protocol.Status `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
	Seq    int             `json:"seq"` // Sequence value after the exchange
}

// Decode unmarshals the body into v
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return protocol.NewDecodeError(fmt.Sprintf("%s response has no body", r.Code), nil)
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return protocol.NewDecodeError(fmt.Sprintf("cannot decode %s response", r.Code), err)
	}
	return nil
}
