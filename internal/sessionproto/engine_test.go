package sessionproto

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/foveate/hostd/internal/sessiontypes"
	"github.com/foveate/hostd/internal/wire"
)

var errTest = errors.New("fake token issuer failure")

type fakeTokenIssuer struct {
	mu           sync.Mutex
	token        string
	fingerprint  string
	startCalls   int
	failIssue    bool
	failFinger   bool
}

func (f *fakeTokenIssuer) IssueClientToken(ctx context.Context, clientID sessiontypes.ClientID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIssue {
		return "", errTest
	}
	return f.token, nil
}

func (f *fakeTokenIssuer) CertificateFingerprint(ctx context.Context, algorithm string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFinger {
		return "", errTest
	}
	return f.fingerprint, nil
}

func (f *fakeTokenIssuer) StartService(ctx context.Context, version string) error {
	f.mu.Lock()
	f.startCalls++
	f.mu.Unlock()
	return nil
}

type fakeIdentity struct{ id string }

func (f *fakeIdentity) GetOrCreate() (string, error) { return f.id, nil }

type fakeWaiter struct{ err error }

func (f *fakeWaiter) AwaitRuntimeMatches(ctx context.Context, expected bool) error { return f.err }

type fakePresenter struct {
	mu               sync.Mutex
	statuses         []sessiontypes.SessionStatus
	barcodeRequested []sessiontypes.SessionInformation
	errs             []error
}

func (f *fakePresenter) SessionStatusDidChange(status sessiontypes.SessionStatus) {
	f.mu.Lock()
	f.statuses = append(f.statuses, status)
	f.mu.Unlock()
}

func (f *fakePresenter) BarcodePresentationRequested(info sessiontypes.SessionInformation) {
	f.mu.Lock()
	f.barcodeRequested = append(f.barcodeRequested, info)
	f.mu.Unlock()
}

func (f *fakePresenter) ConnectionErrorOccurred(err error) {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
}

func newTestEngine(t *testing.T, opts Options) (*Engine, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return New(ln, opts), ln
}

func dial(t *testing.T, addr net.Addr) *wire.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return wire.NewConn(conn)
}

func sendJSON(t *testing.T, wc *wire.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := wc.WriteFrame(context.Background(), data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func recvEvent(t *testing.T, wc *wire.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload, err := wc.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func TestHappyPathAcknowledgeAndMediaStreamReady(t *testing.T) {
	issuer := &fakeTokenIssuer{token: "T1", fingerprint: "F1"}
	presenter := &fakePresenter{}
	engine, ln := newTestEngine(t, Options{
		TokenIssuer: issuer,
		Identity:    &fakeIdentity{id: "abc123"},
		Poller:      &fakeWaiter{},
		Presenter:   presenter,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Serve(ctx)

	wc := dial(t, ln.Addr())

	sendJSON(t, wc, requestConnection{
		Event:           eventRequestConnection,
		ProtocolVersion: "1",
		SessionID:       "S1",
		ClientID:        "C1",
	})

	ack := recvEvent(t, wc)
	if ack["Event"] != eventAcknowledgeConnection {
		t.Fatalf("expected AcknowledgeConnection, got %v", ack["Event"])
	}
	if ack["ServerID"] != "abc123" {
		t.Errorf("expected ServerID abc123, got %v", ack["ServerID"])
	}
	if ack["CertificateFingerprint"] != "F1" {
		t.Errorf("expected CertificateFingerprint F1, got %v", ack["CertificateFingerprint"])
	}

	sendJSON(t, wc, sessionStatusDidChange{
		Event:     eventSessionStatusDidChange,
		SessionID: "S1",
		Status:    string(sessiontypes.StatusWaiting),
	})

	ready := recvEvent(t, wc)
	if ready["Event"] != eventMediaStreamIsReady {
		t.Fatalf("expected MediaStreamIsReady, got %v", ready["Event"])
	}
	if ready["SessionID"] != "S1" {
		t.Errorf("expected SessionID S1, got %v", ready["SessionID"])
	}

	issuer.mu.Lock()
	calls := issuer.startCalls
	issuer.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected startService called once, got %d", calls)
	}
}

func TestForceBarcodeOmitsCertificateFingerprint(t *testing.T) {
	issuer := &fakeTokenIssuer{token: "T1", fingerprint: "F1"}
	engine, ln := newTestEngine(t, Options{
		TokenIssuer:  issuer,
		Identity:     &fakeIdentity{id: "abc123"},
		Poller:       &fakeWaiter{},
		ForceBarcode: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Serve(ctx)

	wc := dial(t, ln.Addr())

	sendJSON(t, wc, requestConnection{
		Event:           eventRequestConnection,
		ProtocolVersion: "1",
		SessionID:       "S1",
		ClientID:        "C1",
	})

	ack := recvEvent(t, wc)
	if _, present := ack["CertificateFingerprint"]; present {
		t.Errorf("expected CertificateFingerprint to be omitted, got %v", ack["CertificateFingerprint"])
	}
}

func TestVersionMismatchClosesConnection(t *testing.T) {
	issuer := &fakeTokenIssuer{token: "T1", fingerprint: "F1"}
	presenter := &fakePresenter{}
	engine, ln := newTestEngine(t, Options{
		TokenIssuer: issuer,
		Identity:    &fakeIdentity{id: "abc123"},
		Poller:      &fakeWaiter{},
		Presenter:   presenter,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Serve(ctx)

	wc := dial(t, ln.Addr())

	sendJSON(t, wc, requestConnection{
		Event:           eventRequestConnection,
		ProtocolVersion: "2",
		SessionID:       "S1",
		ClientID:        "C1",
	})

	disc := recvEvent(t, wc)
	if disc["Event"] != eventRequestSessionDisconnect {
		t.Fatalf("expected RequestSessionDisconnect, got %v", disc["Event"])
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		presenter.mu.Lock()
		n := len(presenter.errs)
		presenter.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	presenter.mu.Lock()
	defer presenter.mu.Unlock()
	if len(presenter.errs) != 1 {
		t.Fatalf("expected one ConnectionErrorOccurred callback, got %d", len(presenter.errs))
	}
}

func TestForeignSessionIDGetsDisconnectedWithoutClosingActive(t *testing.T) {
	issuer := &fakeTokenIssuer{token: "T1", fingerprint: "F1"}
	engine, ln := newTestEngine(t, Options{
		TokenIssuer: issuer,
		Identity:    &fakeIdentity{id: "abc123"},
		Poller:      &fakeWaiter{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Serve(ctx)

	wc := dial(t, ln.Addr())

	sendJSON(t, wc, requestConnection{
		Event:           eventRequestConnection,
		ProtocolVersion: "1",
		SessionID:       "S1",
		ClientID:        "C1",
	})
	recvEvent(t, wc) // AcknowledgeConnection

	sendJSON(t, wc, sessionStatusDidChange{
		Event:     eventSessionStatusDidChange,
		SessionID: "S2",
		Status:    string(sessiontypes.StatusConnected),
	})

	disc := recvEvent(t, wc)
	if disc["Event"] != eventRequestSessionDisconnect {
		t.Fatalf("expected RequestSessionDisconnect, got %v", disc["Event"])
	}
	if disc["SessionID"] != "S2" {
		t.Errorf("expected foreign SessionID S2 echoed back, got %v", disc["SessionID"])
	}

	engine.mu.Lock()
	active := engine.activeSessionID
	engine.mu.Unlock()
	if active != "S1" {
		t.Errorf("expected S1 to remain active, got %q", active)
	}
}

func TestClientDisconnectTriggersCallback(t *testing.T) {
	issuer := &fakeTokenIssuer{token: "T1", fingerprint: "F1"}
	var called int
	var mu sync.Mutex

	engine, ln := newTestEngine(t, Options{
		TokenIssuer: issuer,
		Identity:    &fakeIdentity{id: "abc123"},
		Poller:      &fakeWaiter{},
		OnSessionDisconnectRequested: func() {
			mu.Lock()
			called++
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Serve(ctx)

	wc := dial(t, ln.Addr())

	sendJSON(t, wc, requestConnection{
		Event:           eventRequestConnection,
		ProtocolVersion: "1",
		SessionID:       "S1",
		ClientID:        "C1",
	})
	recvEvent(t, wc)

	sendJSON(t, wc, sessionStatusDidChange{
		Event:     eventSessionStatusDidChange,
		SessionID: "S1",
		Status:    string(sessiontypes.StatusDisconnected),
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		c := called
		mu.Unlock()
		if c == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if called != 1 {
		t.Fatalf("expected OnSessionDisconnectRequested called once, got %d", called)
	}

	engine.mu.Lock()
	hasActive := engine.hasActive
	engine.mu.Unlock()
	if hasActive {
		t.Error("expected active session cleared after DISCONNECTED")
	}
}
