package hdm

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/muurk/hdmctl/internal/protocol"
)

func TestSessionID(t *testing.T) {
	if got := SessionID(SessionKindPOS, "7"); got != "pos_7" {
		t.Errorf("SessionID() = %s, want pos_7", got)
	}
	if got := SessionID(SessionKindSync, "7"); got != "sync_7" {
		t.Errorf("SessionID() = %s, want sync_7", got)
	}

	dev := NewDevice("7", "10.0.0.5", 9000)
	dev.SessionID = "pos_counter"
	if got := dev.sessionID(SessionKindPOS); got != "pos_counter" {
		t.Errorf("sessionID(pos) = %s, want pos_counter", got)
	}
	if got := dev.sessionID(SessionKindSync); got != "sync_7" {
		t.Errorf("sessionID(sync) = %s, want sync_7", got)
	}
}

func TestDeviceValidate(t *testing.T) {
	valid := func() *Device {
		d := NewDevice("1", "10.0.0.5", 9000)
		d.Password = "pw"
		d.Cashier = 1
		return d
	}

	tests := []struct {
		name    string
		mutate  func(d *Device)
		wantErr bool
	}{
		{"valid", func(d *Device) {}, false},
		{"missing host", func(d *Device) { d.Host = "" }, true},
		{"zero port", func(d *Device) { d.Port = 0 }, true},
		{"port too large", func(d *Device) { d.Port = 70000 }, true},
		{"missing password", func(d *Device) { d.Password = "" }, true},
		{"negative cashier", func(d *Device) { d.Cashier = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !protocol.IsConfigError(err) {
				t.Errorf("Validate() error type = %v, want config error", err)
			}
		})
	}

	var nilDev *Device
	if err := nilDev.Validate(); !protocol.IsConfigError(err) {
		t.Errorf("nil device Validate() = %v, want config error", err)
	}
}

func TestConnectionKey(t *testing.T) {
	d := NewDevice("1", "h", 1)
	if d.ConnectionKey() != "" {
		t.Error("new device has a connection key")
	}
	d.SetConnectionKey("k")
	if d.ConnectionKey() != "k" {
		t.Errorf("ConnectionKey() = %q, want k", d.ConnectionKey())
	}
	d.ClearConnectionKey()
	if d.ConnectionKey() != "" {
		t.Error("ClearConnectionKey() left a key")
	}
}

func TestSequence(t *testing.T) {
	s := NewSequence(0)
	if s.Current() != 1 {
		t.Errorf("NewSequence(0).Current() = %d, want 1", s.Current())
	}
	if got := s.Advance(); got != 2 {
		t.Errorf("Advance() = %d, want 2", got)
	}
	if got := s.Bump(); got != 3 {
		t.Errorf("Bump() = %d, want 3", got)
	}
	s.Set(42)
	if s.Current() != 42 {
		t.Errorf("Set(42) then Current() = %d", s.Current())
	}
	s.Set(-5)
	if s.Current() != 1 {
		t.Errorf("Set(-5) then Current() = %d, want 1", s.Current())
	}
}

func TestSequence_Concurrent(t *testing.T) {
	s := NewSequence(1)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Advance()
		}()
	}
	wg.Wait()
	if s.Current() != 101 {
		t.Errorf("Current() = %d, want 101", s.Current())
	}
}

func TestDevice_LazySequence(t *testing.T) {
	d := &Device{Name: "x"}
	if got := d.sequence().Current(); got != 1 {
		t.Errorf("lazy sequence starts at %d, want 1", got)
	}
}

func TestReceiptRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ReceiptRequest
		wantErr bool
	}{
		{"simple", ReceiptRequest{Mode: ModeSimple, PaidAmount: 10}, false},
		{"prepayment", ReceiptRequest{Mode: ModePrepayment, PrePaymentAmount: 10}, false},
		{"items", ReceiptRequest{Mode: ModeItems, Items: []Item{{Qty: 1, Price: 5}}}, false},
		{"items missing", ReceiptRequest{Mode: ModeItems}, true},
		{"bad mode", ReceiptRequest{Mode: 9}, true},
		{"negative amount", ReceiptRequest{Mode: ModeSimple, PaidAmount: -1}, true},
		{"zero qty", ReceiptRequest{Mode: ModeItems, Items: []Item{{Qty: 0, Price: 5}}}, true},
		{"negative price", ReceiptRequest{Mode: ModeItems, Items: []Item{{Qty: 1, Price: -5}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReceiptRequestJSON(t *testing.T) {
	req := ReceiptRequest{
		Mode: ModeItems,
		Items: []Item{{
			Dep: 1, AdgCode: "2201", ProductCode: "17", ProductName: "Water",
			Qty: 2, Unit: "pcs", Price: 150, DiscountType: 1, Discount: 10,
		}},
		EMarks: []string{},
		Seq:    9,
	}

	data, err := json.Marshal(&req)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]any
	json.Unmarshal(data, &got)

	for _, key := range []string{"items", "paidAmount", "paidAmountCard", "partialAmount", "prePaymentAmount", "useExtPOS", "eMarks", "mode", "partnerTin", "seq"} {
		if _, ok := got[key]; !ok {
			t.Errorf("JSON has no %q field: %s", key, data)
		}
	}
	if _, ok := got["dep"]; ok {
		t.Errorf("itemized receipt carries a top-level dep: %s", data)
	}

	item := got["items"].([]any)[0].(map[string]any)
	if item["adgCode"] != "2201" || item["discountType"] != float64(1) {
		t.Errorf("item = %v", item)
	}
}

func TestResponseDecode(t *testing.T) {
	empty := &Response{Code: protocol.CodePrintReceipt}
	if err := empty.Decode(&Receipt{}); !protocol.IsDecodeFailure(err) {
		t.Errorf("Decode() on empty body = %v, want decode failure", err)
	}

	bad := &Response{Code: protocol.CodePrintReceipt, Body: json.RawMessage(`{"rseq":"x"}`)}
	if err := bad.Decode(&Receipt{}); !protocol.IsDecodeFailure(err) {
		t.Errorf("Decode() on bad body = %v, want decode failure", err)
	}

	ok := &Response{Code: protocol.CodePrintReceipt, Body: json.RawMessage(`{"rseq":4,"fiscal":"F","crn":"C","total":12.5}`)}
	var r Receipt
	if err := ok.Decode(&r); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if r.RSeq != 4 || r.Total != 12.5 {
		t.Errorf("Receipt = %+v", r)
	}
}

func TestStateString(t *testing.T) {
	if StateAwaitingResponse.String() != "awaiting_response" {
		t.Errorf("String() = %s", StateAwaitingResponse)
	}
	if State(99).String() != "state(99)" {
		t.Errorf("String() = %s", State(99))
	}
	if ModeItems.String() != "items" {
		t.Errorf("ReceiptMode.String() = %s", ModeItems)
	}
}
