package transport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muurk/hdmctl/internal/protocol"
)

type fakeOwner struct {
	cleared atomic.Int32
}

func (f *fakeOwner) ClearConnectionKey() { f.cleared.Add(1) }

// startListener accepts connections and hands them to handle in a goroutine
func startListener(t *testing.T, handle func(net.Conn)) (string, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// holdOpen keeps the server side open until the peer closes
func holdOpen(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 256)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func unusedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Options{})
	opts := m.Options()

	if opts.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", opts.ConnectTimeout, DefaultConnectTimeout)
	}
	if opts.IOTimeout != DefaultIOTimeout {
		t.Errorf("IOTimeout = %v, want %v", opts.IOTimeout, DefaultIOTimeout)
	}
	if opts.KeepAliveIdle != 20*time.Second || opts.KeepAliveInterval != 20*time.Second {
		t.Errorf("keep-alive = %v/%v, want 20s/20s", opts.KeepAliveIdle, opts.KeepAliveInterval)
	}
	if opts.KeepAliveCount != 3 {
		t.Errorf("KeepAliveCount = %d, want 3", opts.KeepAliveCount)
	}
}

func TestConnect_RegistersSession(t *testing.T) {
	host, port := startListener(t, holdOpen)
	m := NewManager(Options{})

	tr, err := m.Connect(context.Background(), "pos_1", host, port)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer m.Shutdown()

	if tr.SessionID() != "pos_1" {
		t.Errorf("SessionID() = %s, want pos_1", tr.SessionID())
	}
	if !m.IsLive("pos_1") {
		t.Error("IsLive() = false after connect")
	}

	sessions := m.Sessions()
	if len(sessions) != 1 || sessions[0] != "pos_1" {
		t.Errorf("Sessions() = %v, want [pos_1]", sessions)
	}
}

func TestConnect_ReusesLiveTransport(t *testing.T) {
	host, port := startListener(t, holdOpen)
	m := NewManager(Options{})
	defer m.Shutdown()

	first, err := m.Connect(context.Background(), "pos_1", host, port)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	second, err := m.Connect(context.Background(), "pos_1", host, port)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if first != second {
		t.Error("Connect() dialed again while the registered transport was live")
	}
}

func TestConnect_ReplacesDeadTransport(t *testing.T) {
	// Server closes every connection immediately
	host, port := startListener(t, func(c net.Conn) { c.Close() })
	m := NewManager(Options{})
	defer m.Shutdown()

	first, err := m.Connect(context.Background(), "pos_1", host, port)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.IsLive("pos_1") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if m.IsLive("pos_1") {
		t.Fatal("IsLive() still true after peer closed")
	}

	second, err := m.Connect(context.Background(), "pos_1", host, port)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if first == second {
		t.Error("Connect() returned the dead transport")
	}
}

func TestConnect_Refused(t *testing.T) {
	m := NewManager(Options{ConnectTimeout: time.Second})

	_, err := m.Connect(context.Background(), "pos_1", "127.0.0.1", unusedPort(t))
	if err == nil {
		t.Fatal("Connect() expected error")
	}
	if !protocol.IsConnectFailure(err) {
		t.Errorf("error type = %v, want ConnectFailure", err)
	}
	if len(m.Sessions()) != 0 {
		t.Errorf("failed connect registered a session: %v", m.Sessions())
	}
}

func TestClose_ClearsKeyAndEntry(t *testing.T) {
	host, port := startListener(t, holdOpen)
	m := NewManager(Options{})

	if _, err := m.Connect(context.Background(), "pos_1", host, port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	owner := &fakeOwner{}
	if err := m.Close("pos_1", owner); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if owner.cleared.Load() != 1 {
		t.Errorf("key cleared %d times, want 1", owner.cleared.Load())
	}
	if m.IsLive("pos_1") {
		t.Error("IsLive() = true after close")
	}
	if len(m.Sessions()) != 0 {
		t.Errorf("Sessions() = %v, want empty", m.Sessions())
	}
}

func TestClose_NoActiveConnection(t *testing.T) {
	m := NewManager(Options{})
	owner := &fakeOwner{}

	err := m.Close("pos_missing", owner)
	if !protocol.IsNoActiveConnection(err) {
		t.Fatalf("Close() error = %v, want NoActiveConnection", err)
	}
	if owner.cleared.Load() != 1 {
		t.Error("key should be cleared even when nothing was registered")
	}
}

func TestEnsureLive(t *testing.T) {
	host, port := startListener(t, holdOpen)
	m := NewManager(Options{})
	defer m.Shutdown()

	if _, err := m.EnsureLive("pos_1"); !protocol.IsNoActiveConnection(err) {
		t.Errorf("EnsureLive() before connect error = %v, want NoActiveConnection", err)
	}

	if _, err := m.Connect(context.Background(), "pos_1", host, port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, err := m.EnsureLive("pos_1"); err != nil {
		t.Errorf("EnsureLive() error = %v", err)
	}
}

func TestTransport_SendAndReadResponse(t *testing.T) {
	body := []byte(`{"rseq":1}`)
	host, port := startListener(t, func(c net.Conn) {
		defer c.Close()
		if _, err := protocol.ReadRequest(c); err != nil {
			return
		}
		frame, _ := protocol.EncodeResponse(protocol.StatusOK, body)
		// Fragment the response to exercise reassembly
		for i := range frame {
			c.Write(frame[i : i+1])
		}
	})

	m := NewManager(Options{IOTimeout: 2 * time.Second})
	defer m.Shutdown()

	tr, err := m.Connect(context.Background(), "pos_1", host, port)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	frame, _ := protocol.EncodeRequest(protocol.CodePrintReceipt, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err := tr.Send(frame); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	status, got, err := tr.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse() error = %v", err)
	}
	if status != protocol.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if string(got) != string(body) {
		t.Errorf("body = %q, want %q", got, body)
	}

	if n := tr.MarkRoundTrip(); n != 1 || tr.RoundTrips() != 1 {
		t.Errorf("RoundTrips() = %d, want 1", tr.RoundTrips())
	}
}

func TestTransport_ReadTimeout(t *testing.T) {
	host, port := startListener(t, holdOpen)
	m := NewManager(Options{IOTimeout: 100 * time.Millisecond})
	defer m.Shutdown()

	tr, err := m.Connect(context.Background(), "pos_1", host, port)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	_, _, err = tr.ReadResponse()
	if !protocol.IsProtocolTimeout(err) {
		t.Errorf("ReadResponse() error = %v, want ProtocolTimeout", err)
	}
}

func TestTransport_TruncatedResponse(t *testing.T) {
	host, port := startListener(t, func(c net.Conn) {
		frame, _ := protocol.EncodeResponse(protocol.StatusOK, []byte("0123456789"))
		c.Write(frame[:len(frame)-4])
		c.Close()
	})
	m := NewManager(Options{IOTimeout: time.Second})
	defer m.Shutdown()

	tr, err := m.Connect(context.Background(), "pos_1", host, port)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	_, _, err = tr.ReadResponse()
	if !protocol.IsDecodeFailure(err) {
		t.Errorf("ReadResponse() error = %v, want DecodeFailure", err)
	}
}

func TestLock_Serializes(t *testing.T) {
	m := NewManager(Options{})

	var (
		active  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("pos_1")
			defer unlock()

			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Error("two holders of the same session lock ran concurrently")
	}
}

func TestLock_IndependentSessions(t *testing.T) {
	m := NewManager(Options{})

	unlockA := m.Lock("pos_a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock("pos_b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on pos_b blocked behind pos_a")
	}
}
