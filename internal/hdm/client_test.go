package hdm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muurk/hdmctl/internal/protocol"
	"github.com/muurk/hdmctl/internal/simulator"
	"github.com/muurk/hdmctl/internal/transport"
)

const (
	testPassword = "secret"
	testCashier  = 3
	testPIN      = "1234"
)

type rig struct {
	sim     *simulator.Server
	manager *transport.Manager
	client  *Client
	dev     *Device
}

func newRig(t *testing.T, simCfg *simulator.Config, opts ...Option) *rig {
	t.Helper()

	if simCfg == nil {
		simCfg = &simulator.Config{}
	}
	simCfg.Password = testPassword
	simCfg.Cashier = testCashier
	simCfg.PIN = testPIN

	sim, err := simulator.New(simCfg)
	if err != nil {
		t.Fatalf("simulator.New() error = %v", err)
	}
	if err := sim.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { sim.Shutdown(context.Background()) })

	host, port := sim.HostPort()
	dev := NewDevice("1", host, port)
	dev.Cashier = testCashier
	dev.Password = testPassword
	dev.PIN = testPIN

	manager := transport.NewManager(transport.Options{
		ConnectTimeout: time.Second,
		IOTimeout:      time.Second,
	})
	t.Cleanup(manager.Shutdown)

	return &rig{
		sim:     sim,
		manager: manager,
		client:  NewClient(manager, opts...),
		dev:     dev,
	}
}

// assertCleanedUp checks the invariant every exchange must leave behind
func (r *rig) assertCleanedUp(t *testing.T) {
	t.Helper()
	if key := r.dev.ConnectionKey(); key != "" {
		t.Errorf("connection key = %q after call, want empty", key)
	}
	if sessions := r.manager.Sessions(); len(sessions) != 0 {
		t.Errorf("registered sessions = %v after call, want none", sessions)
	}
}

// waitForCodes waits until the simulator has recorded n requests
func (r *rig) waitForCodes(t *testing.T, n int) []protocol.Code {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if codes := r.sim.ReceivedCodes(); len(codes) >= n {
			return codes
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("simulator recorded %v, want %d requests", r.sim.ReceivedCodes(), n)
	return nil
}

func payloadSeq(t *testing.T, raw json.RawMessage) int {
	t.Helper()
	var p struct {
		Seq int `json:"seq"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal payload %s: %v", raw, err)
	}
	return p.Seq
}

func simpleReceipt(amount float64) *ReceiptRequest {
	return &ReceiptRequest{Mode: ModeSimple, Dep: 1, PaidAmount: amount}
}

func TestLogin_Success(t *testing.T) {
	r := newRig(t, nil)

	if err := r.client.Login(context.Background(), r.dev); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	r.assertCleanedUp(t)
	codes := r.waitForCodes(t, 1)
	if codes[0] != protocol.CodeLogin {
		t.Errorf("first code = %s, want login", codes[0])
	}
	if got := r.dev.Seq.Current(); got != 2 {
		t.Errorf("Seq = %d after login, want 2", got)
	}
}

func TestLogin_SendsCredentials(t *testing.T) {
	r := newRig(t, nil)

	if err := r.client.Login(context.Background(), r.dev); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	var creds map[string]any
	if err := json.Unmarshal(r.sim.Received()[0].Payload, &creds); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if creds["password"] != testPassword || creds["pin"] != testPIN {
		t.Errorf("credentials = %v", creds)
	}
	// Cashier travels as a JSON number
	if cashier, ok := creds["cashier"].(float64); !ok || int(cashier) != testCashier {
		t.Errorf("cashier = %#v, want number %d", creds["cashier"], testCashier)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	r := newRig(t, nil)
	r.dev.PIN = "0000"

	err := r.client.Login(context.Background(), r.dev)
	if !protocol.IsDeviceError(err) {
		t.Fatalf("Login() error = %v, want device error", err)
	}

	var hdmErr *protocol.Error
	errors.As(err, &hdmErr)
	if got, want := hdmErr.HDMError(), "111: Wrong cashier ID or PIN"; got != want {
		t.Errorf("HDMError() = %q, want %q", got, want)
	}
	r.assertCleanedUp(t)
}

func TestPrintReceipt_Success(t *testing.T) {
	r := newRig(t, &simulator.Config{CRN: "77001122"})

	receipt, err := r.client.PrintReceipt(context.Background(), r.dev, simpleReceipt(2500))
	if err != nil {
		t.Fatalf("PrintReceipt() error = %v", err)
	}

	if receipt.RSeq != 1 {
		t.Errorf("RSeq = %d, want 1", receipt.RSeq)
	}
	if receipt.CRN != "77001122" {
		t.Errorf("CRN = %s, want 77001122", receipt.CRN)
	}
	if receipt.Total != 2500 {
		t.Errorf("Total = %v, want 2500", receipt.Total)
	}
	if receipt.Fiscal == "" {
		t.Error("Fiscal is empty")
	}
	r.assertCleanedUp(t)
}

func TestPrintReceipt_ConnectionKeyObserved(t *testing.T) {
	var (
		mu       sync.Mutex
		observed string
		dev      *Device
	)
	observer := ObserverFunc(func(tr Transition) {
		if tr.To == StateSending {
			mu.Lock()
			observed = dev.ConnectionKey()
			mu.Unlock()
		}
	})

	r := newRig(t, &simulator.Config{KeyFunc: func() string { return "ABC123" }}, WithObserver(observer))
	dev = r.dev

	if _, err := r.client.PrintReceipt(context.Background(), r.dev, simpleReceipt(100)); err != nil {
		t.Fatalf("PrintReceipt() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if observed != "ABC123" {
		t.Errorf("connection key during send = %q, want ABC123", observed)
	}

	received := r.sim.Received()
	if len(received) != 2 || received[1].ConnectionKey != "ABC123" {
		t.Errorf("receipt was not sealed with the issued key: %+v", received)
	}
	r.assertCleanedUp(t)
}

func TestPrintReceipt_DeviceError(t *testing.T) {
	r := newRig(t, nil)
	r.sim.SetFault(protocol.CodePrintReceipt, simulator.Fault{Status: 500})

	_, err := r.client.PrintReceipt(context.Background(), r.dev, simpleReceipt(100))
	if !protocol.IsDeviceError(err) {
		t.Fatalf("PrintReceipt() error = %v, want device error", err)
	}

	var hdmErr *protocol.Error
	errors.As(err, &hdmErr)
	if got, want := hdmErr.HDMError(), "500: Internal HDM error"; got != want {
		t.Errorf("HDMError() = %q, want %q", got, want)
	}
	if hdmErr.SessionID != "pos_1" {
		t.Errorf("SessionID = %q, want pos_1", hdmErr.SessionID)
	}

	r.assertCleanedUp(t)
	// Only the login round trip completed
	if got := r.dev.Seq.Current(); got != 2 {
		t.Errorf("Seq = %d after failed call, want 2", got)
	}
}

func TestPrintReceipt_UnknownStatus(t *testing.T) {
	r := newRig(t, nil)
	r.sim.SetFault(protocol.CodePrintReceipt, simulator.Fault{Status: 777})

	_, err := r.client.PrintReceipt(context.Background(), r.dev, simpleReceipt(100))

	var hdmErr *protocol.Error
	if !errors.As(err, &hdmErr) {
		t.Fatalf("PrintReceipt() error = %v, want *protocol.Error", err)
	}
	if got, want := hdmErr.HDMError(), "777: Unknown Error"; got != want {
		t.Errorf("HDMError() = %q, want %q", got, want)
	}
}

func TestPrintReceipt_ErrorTableOverride(t *testing.T) {
	table := protocol.DefaultErrorTable().WithOverrides(map[int]string{500: "Printer jammed"})
	r := newRig(t, nil, WithErrorTable(table))
	r.sim.SetFault(protocol.CodePrintReceipt, simulator.Fault{Status: 500})

	_, err := r.client.PrintReceipt(context.Background(), r.dev, simpleReceipt(100))

	var hdmErr *protocol.Error
	errors.As(err, &hdmErr)
	if hdmErr == nil || hdmErr.HDMError() != "500: Printer jammed" {
		t.Errorf("error = %v, want 500: Printer jammed", err)
	}
}

func TestPrintReceipt_Timeout(t *testing.T) {
	r := newRig(t, nil)
	r.sim.SetFault(protocol.CodePrintReceipt, simulator.Fault{Delay: 1500 * time.Millisecond})

	start := time.Now()
	_, err := r.client.PrintReceipt(context.Background(), r.dev, simpleReceipt(100))
	if !protocol.IsProtocolTimeout(err) {
		t.Fatalf("PrintReceipt() error = %v, want protocol timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 1400*time.Millisecond {
		t.Errorf("call took %v, want it bounded by the I/O timeout", elapsed)
	}
	r.assertCleanedUp(t)
}

func TestPrintReceipt_DecodeFailure(t *testing.T) {
	r := newRig(t, nil)
	r.sim.SetFault(protocol.CodePrintReceipt, simulator.Fault{Garbage: true})

	_, err := r.client.PrintReceipt(context.Background(), r.dev, simpleReceipt(100))
	if !protocol.IsDecodeFailure(err) {
		t.Fatalf("PrintReceipt() error = %v, want decode failure", err)
	}
	r.assertCleanedUp(t)
}

func TestPrintReceipt_DroppedConnection(t *testing.T) {
	r := newRig(t, nil)
	r.sim.SetFault(protocol.CodePrintReceipt, simulator.Fault{Drop: true})

	_, err := r.client.PrintReceipt(context.Background(), r.dev, simpleReceipt(100))

	var hdmErr *protocol.Error
	if !errors.As(err, &hdmErr) {
		t.Fatalf("PrintReceipt() error = %v, want *protocol.Error", err)
	}
	r.assertCleanedUp(t)
}

func TestPrintReceipt_FragmentedResponse(t *testing.T) {
	r := newRig(t, nil)
	r.sim.SetFault(protocol.CodePrintReceipt, simulator.Fault{Fragment: true})

	receipt, err := r.client.PrintReceipt(context.Background(), r.dev, simpleReceipt(42))
	if err != nil {
		t.Fatalf("PrintReceipt() error = %v", err)
	}
	if receipt.Total != 42 {
		t.Errorf("Total = %v, want 42", receipt.Total)
	}
}

func TestLogin_MissingKeyFailsFast(t *testing.T) {
	r := newRig(t, nil)
	r.sim.SetFault(protocol.CodeLogin, simulator.Fault{NoKey: true})

	_, err := r.client.PrintReceipt(context.Background(), r.dev, simpleReceipt(100))
	if !protocol.IsDecodeFailure(err) {
		t.Fatalf("PrintReceipt() error = %v, want decode failure", err)
	}

	// Nothing but the login may reach the device without a key
	time.Sleep(50 * time.Millisecond)
	if codes := r.sim.ReceivedCodes(); len(codes) != 1 || codes[0] != protocol.CodeLogin {
		t.Errorf("ReceivedCodes() = %v, want [login]", codes)
	}
	r.assertCleanedUp(t)
}

func TestDo_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	manager := transport.NewManager(transport.Options{ConnectTimeout: time.Second})
	client := NewClient(manager, WithConnectRetries(2, 10*time.Millisecond))

	dev := NewDevice("1", "127.0.0.1", port)
	dev.Password = testPassword

	err = client.Login(context.Background(), dev)
	if !protocol.IsConnectFailure(err) {
		t.Fatalf("Login() error = %v, want connect failure", err)
	}
	if len(manager.Sessions()) != 0 {
		t.Errorf("Sessions() = %v, want none", manager.Sessions())
	}
}

func TestLogout_ConnectFailureConsumesSeq(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	manager := transport.NewManager(transport.Options{ConnectTimeout: time.Second})
	client := NewClient(manager)

	dev := NewDevice("1", "127.0.0.1", port)
	dev.Password = testPassword
	dev.Seq = NewSequence(5)

	sent := false
	ctx := WithTrace(context.Background(), &Trace{Sent: func(Sent) { sent = true }})
	if err := client.Logout(ctx, dev); !protocol.IsConnectFailure(err) {
		t.Fatalf("Logout() error = %v, want connect failure", err)
	}
	if got := dev.Seq.Current(); got != 6 {
		t.Errorf("Seq = %d after a logout that never connected, want 6", got)
	}
	if sent {
		t.Error("trace reported a logout that was never sent")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	r := newRig(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.client.Login(ctx, r.dev)
	if !protocol.IsConnectFailure(err) {
		t.Fatalf("Login() error = %v, want connect failure", err)
	}
	r.assertCleanedUp(t)
}

func TestDo_InvalidDevice(t *testing.T) {
	r := newRig(t, nil)
	r.dev.Password = ""

	_, err := r.client.Do(context.Background(), r.dev, protocol.CodePrintReceipt, simpleReceipt(1))
	if !protocol.IsConfigError(err) {
		t.Fatalf("Do() error = %v, want config error", err)
	}
	if r.sim.AcceptedConnections() != 0 {
		t.Error("an invalid device must not open a connection")
	}
}

func TestDo_ClosesStaleTransportFirst(t *testing.T) {
	r := newRig(t, nil)
	host, port := r.sim.HostPort()

	stale, err := r.manager.Connect(context.Background(), "pos_1", host, port)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	r.dev.SetConnectionKey("stale")

	var sawStaleKey atomic.Bool
	r.client.observer = ObserverFunc(func(tr Transition) {
		if tr.To == StateLoggingIn && r.dev.ConnectionKey() == "stale" {
			sawStaleKey.Store(true)
		}
	})

	if err := r.client.Login(context.Background(), r.dev); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if sawStaleKey.Load() {
		t.Error("stale key survived into the new exchange")
	}
	if stale.RoundTrips() != 0 {
		t.Error("the stale transport was reused")
	}
	r.assertCleanedUp(t)
}

func TestSequence_AdvancesPerOperation(t *testing.T) {
	r := newRig(t, nil)
	ctx := context.Background()

	if _, err := r.client.PrintReceipt(ctx, r.dev, simpleReceipt(10)); err != nil {
		t.Fatalf("PrintReceipt() error = %v", err)
	}
	if _, err := r.client.PrintReceipt(ctx, r.dev, simpleReceipt(20)); err != nil {
		t.Fatalf("PrintReceipt() error = %v", err)
	}
	if err := r.client.SyncTime(ctx, r.dev); err != nil {
		t.Fatalf("SyncTime() error = %v", err)
	}
	if err := r.client.Logout(ctx, r.dev); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	// login, receipt, login, receipt, login, sync, login, logout
	r.waitForCodes(t, 8)
	received := r.sim.Received()

	var sent []int
	for _, rec := range received {
		if rec.Code != protocol.CodeLogin {
			sent = append(sent, payloadSeq(t, rec.Payload))
		}
	}

	// Fire-and-forget records can land after the next login
	sort.Ints(sent)

	// Each operation sends the value it found and then moves the sequence
	// once for its login and once for its message. Logout bumps 7 to 8
	// before sending.
	want := []int{1, 3, 5, 8}
	if len(sent) != len(want) {
		t.Fatalf("sent seqs = %v, want %v", sent, want)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("sent seqs = %v, want %v", sent, want)
			break
		}
	}
	if got := r.dev.Seq.Current(); got != 10 {
		t.Errorf("Seq = %d, want 10", got)
	}
}

func TestSequence_LoginRoundTripCounts(t *testing.T) {
	r := newRig(t, nil)
	ctx := context.Background()

	if err := r.client.Login(ctx, r.dev); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if got := r.dev.Seq.Current(); got != 2 {
		t.Fatalf("Seq = %d after one round trip, want 2", got)
	}

	if _, err := r.client.PrintReceipt(ctx, r.dev, simpleReceipt(10)); err != nil {
		t.Fatalf("PrintReceipt() error = %v", err)
	}
	if got := r.dev.Seq.Current(); got != 4 {
		t.Errorf("Seq = %d after three round trips, want 4", got)
	}

	received := r.waitForCodes(t, 3)
	if received[2] != protocol.CodePrintReceipt {
		t.Fatalf("codes = %v", received)
	}
	if got := payloadSeq(t, r.sim.Received()[2].Payload); got != 2 {
		t.Errorf("receipt seq = %d, want 2", got)
	}
}

func TestTrace_ReportsPayloadAsSent(t *testing.T) {
	r := newRig(t, nil)

	var sent []Sent
	ctx := WithTrace(context.Background(), &Trace{Sent: func(s Sent) {
		sent = append(sent, s)
	}})

	if _, err := r.client.PrintReceipt(ctx, r.dev, simpleReceipt(10)); err != nil {
		t.Fatalf("PrintReceipt() error = %v", err)
	}
	if err := r.client.Logout(ctx, r.dev); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if len(sent) != 2 {
		t.Fatalf("traced %d requests, want 2 (logins are not traced)", len(sent))
	}
	if sent[0].Code != protocol.CodePrintReceipt || sent[0].Seq != 1 || sent[0].SessionID != "pos_1" {
		t.Errorf("receipt trace = %+v", sent[0])
	}
	if got := payloadSeq(t, sent[0].Payload); got != 1 {
		t.Errorf("traced payload seq = %d, want 1", got)
	}
	if sent[1].Code != protocol.CodeLogout || sent[1].Seq != 4 {
		t.Errorf("logout trace = %+v, want seq 4", sent[1])
	}

	r.waitForCodes(t, 4)
	for _, rec := range r.sim.Received() {
		if rec.Code == protocol.CodeLogin {
			continue
		}
		want := sent[0]
		if rec.Code == protocol.CodeLogout {
			want = sent[1]
		}
		if got := payloadSeq(t, rec.Payload); got != want.Seq {
			t.Errorf("%s: device got seq %d, trace says %d", rec.Code, got, want.Seq)
		}
	}
}

func TestTrace_NotCalledWhenNothingSent(t *testing.T) {
	r := newRig(t, nil)
	r.sim.SetFault(protocol.CodeLogin, simulator.Fault{Status: 403})

	called := false
	ctx := WithTrace(context.Background(), &Trace{Sent: func(Sent) { called = true }})
	if _, err := r.client.PrintReceipt(ctx, r.dev, simpleReceipt(10)); err == nil {
		t.Fatal("PrintReceipt() succeeded despite a failed login")
	}
	if called {
		t.Error("trace reported a request that never reached the device")
	}
}

func TestSequence_ExplicitSeqKept(t *testing.T) {
	r := newRig(t, nil)
	req := simpleReceipt(10)
	req.Seq = 40

	if _, err := r.client.PrintReceipt(context.Background(), r.dev, req); err != nil {
		t.Fatalf("PrintReceipt() error = %v", err)
	}
	if got := payloadSeq(t, r.sim.Received()[1].Payload); got != 40 {
		t.Errorf("sent seq = %d, want 40", got)
	}
	if req.Seq != 40 {
		t.Errorf("caller's request was modified: Seq = %d", req.Seq)
	}
}

func TestSyncTime_UsesSyncSession(t *testing.T) {
	var (
		mu       sync.Mutex
		sessions = map[string]bool{}
	)
	r := newRig(t, nil, WithObserver(ObserverFunc(func(tr Transition) {
		mu.Lock()
		sessions[tr.SessionID] = true
		mu.Unlock()
	})))

	if err := r.client.SyncTime(context.Background(), r.dev); err != nil {
		t.Fatalf("SyncTime() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !sessions["sync_1"] || sessions["pos_1"] {
		t.Errorf("sessions used = %v, want only sync_1", sessions)
	}
	r.assertCleanedUp(t)
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name string
		run  func(c *Client, d *Device) error
		want []State
	}{
		{
			name: "receipt",
			run: func(c *Client, d *Device) error {
				_, err := c.PrintReceipt(context.Background(), d, simpleReceipt(1))
				return err
			},
			want: []State{StateConnecting, StateLoggingIn, StateSending, StateAwaitingResponse, StateDecoding, StateClosed},
		},
		{
			name: "fire and forget",
			run:  func(c *Client, d *Device) error { return c.SyncTime(context.Background(), d) },
			want: []State{StateConnecting, StateLoggingIn, StateSending, StateClosed},
		},
		{
			name: "login",
			run:  func(c *Client, d *Device) error { return c.Login(context.Background(), d) },
			want: []State{StateConnecting, StateLoggingIn, StateClosed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []State
			r := newRig(t, nil, WithObserver(ObserverFunc(func(tr Transition) {
				got = append(got, tr.To)
			})))

			if err := tt.run(r.client, r.dev); err != nil {
				t.Fatalf("run error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("states = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("states = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestConcurrentCallsSerialize(t *testing.T) {
	var (
		active  atomic.Int32
		overlap atomic.Bool
	)
	observer := ObserverFunc(func(tr Transition) {
		switch tr.To {
		case StateConnecting:
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
		case StateClosed:
			active.Add(-1)
		}
	})
	r := newRig(t, nil, WithObserver(observer))

	const calls = 5
	var wg sync.WaitGroup
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.client.PrintReceipt(context.Background(), r.dev, simpleReceipt(1))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("PrintReceipt() error = %v", err)
		}
	}
	if overlap.Load() {
		t.Error("exchanges on the same device overlapped")
	}

	seen := map[int]bool{}
	for _, rec := range r.sim.Received() {
		if rec.Code == protocol.CodePrintReceipt {
			seq := payloadSeq(t, rec.Payload)
			if seen[seq] {
				t.Errorf("seq %d sent twice", seq)
			}
			seen[seq] = true
		}
	}
	if got := r.dev.Seq.Current(); got != 2*calls+1 {
		t.Errorf("Seq = %d, want %d", got, 2*calls+1)
	}
	r.assertCleanedUp(t)
}

func TestPrintReturn_Success(t *testing.T) {
	r := newRig(t, nil)

	receipt, err := r.client.PrintReturn(context.Background(), r.dev, &ReturnRequest{
		CRN:                 "77001122",
		ReturnTicketID:      "15",
		CashAmountForReturn: 300,
		CardAmountForReturn: 200,
		ReturnItems:         []ReturnItem{{RPID: 0, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("PrintReturn() error = %v", err)
	}
	if receipt.Total != 500 {
		t.Errorf("Total = %v, want 500", receipt.Total)
	}

	var sent map[string]any
	json.Unmarshal(r.sim.Received()[1].Payload, &sent)
	if sent["returnTicketId"] != "15" || sent["crn"] != "77001122" {
		t.Errorf("payload = %v", sent)
	}
	if _, ok := sent["returnItemList"]; !ok {
		t.Error("payload has no returnItemList")
	}
}

func TestPrintReturn_Validation(t *testing.T) {
	r := newRig(t, nil)

	_, err := r.client.PrintReturn(context.Background(), r.dev, &ReturnRequest{ReturnTicketID: "1"})
	if !protocol.IsConfigError(err) {
		t.Errorf("PrintReturn() error = %v, want config error", err)
	}
	if _, err := r.client.PrintReturn(context.Background(), r.dev, nil); !protocol.IsConfigError(err) {
		t.Errorf("PrintReturn(nil) error = %v, want config error", err)
	}
}

func TestPrintReceipt_FillsDeviceDefaults(t *testing.T) {
	r := newRig(t, nil)
	r.dev.Department = 7
	r.dev.UseExtPOS = true

	req := &ReceiptRequest{PaidAmountCard: 900}
	if _, err := r.client.PrintReceipt(context.Background(), r.dev, req); err != nil {
		t.Fatalf("PrintReceipt() error = %v", err)
	}

	var sent map[string]any
	json.Unmarshal(r.sim.Received()[1].Payload, &sent)

	if sent["mode"] != float64(ModeSimple) {
		t.Errorf("mode = %v, want 1", sent["mode"])
	}
	if sent["dep"] != float64(7) {
		t.Errorf("dep = %v, want 7", sent["dep"])
	}
	if sent["useExtPOS"] != true {
		t.Errorf("useExtPOS = %v, want true", sent["useExtPOS"])
	}
	if marks, ok := sent["eMarks"].([]any); !ok || len(marks) != 0 {
		t.Errorf("eMarks = %#v, want []", sent["eMarks"])
	}
	if v, ok := sent["partnerTin"]; !ok || v != nil {
		t.Errorf("partnerTin = %#v, want null", v)
	}
}
