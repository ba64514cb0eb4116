// Package sessionproto implements the session protocol engine (M2): the
// accept loop and per-connection state machine that speaks the framed JSON
// protocol to the HMD/handheld client, drives the RequestConnection
// handshake and QR pairing flow, and relays session status changes to the
// media-service RPC client and poller.
package sessionproto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/foveate/hostd/internal/logging"
	"github.com/foveate/hostd/internal/sessionerrors"
	"github.com/foveate/hostd/internal/sessiontypes"
	"github.com/foveate/hostd/internal/wire"
)

var log = logging.L("sessionproto")

// mediaServiceVersion is the version string the engine asks the media
// service to start at when a session reaches WAITING.
const mediaServiceVersion = "6.0.0"

// teardownDeadline bounds Close: if the accept loop and any open connection
// have not unwound by this deadline, Close returns anyway.
const teardownDeadline = 3 * time.Second

// TokenIssuer is the subset of the media-service RPC client the engine
// depends on directly. Satisfied by *mediarpc.Client.
type TokenIssuer interface {
	IssueClientToken(ctx context.Context, clientID sessiontypes.ClientID) (string, error)
	CertificateFingerprint(ctx context.Context, algorithm string) (string, error)
	StartService(ctx context.Context, version string) error
}

// IdentityProvider resolves the host's stable server id. Satisfied by
// *identity.Store.
type IdentityProvider interface {
	GetOrCreate() (string, error)
}

// RuntimeWaiter blocks until the media service's runtime state matches an
// expectation. Satisfied by *mediapoll.Poller.
type RuntimeWaiter interface {
	AwaitRuntimeMatches(ctx context.Context, expected bool) error
}

// Presenter is the narrow outbound surface the engine drives directly. It is
// a subset of presenter.Presenter so tests can supply a fake without
// implementing GenerateBarcode.
type Presenter interface {
	SessionStatusDidChange(status sessiontypes.SessionStatus)
	BarcodePresentationRequested(info sessiontypes.SessionInformation)
	ConnectionErrorOccurred(err error)
}

// Options configures a new Engine.
type Options struct {
	TokenIssuer  TokenIssuer
	Identity     IdentityProvider
	Poller       RuntimeWaiter
	Presenter    Presenter
	ForceBarcode bool

	// OnSessionDisconnectRequested is invoked (without the engine's internal
	// lock held) whenever the client announces DISCONNECTED for the active
	// session. The coordinator uses this to trigger a full teardown and
	// relisten.
	OnSessionDisconnectRequested func()
}

// Engine owns one TCP listener and the single active client connection, if
// any. It accepts one client at a time; on disconnect it loops back to
// accept the next.
type Engine struct {
	listener net.Listener
	opts     Options

	mu              sync.Mutex
	hasActive       bool
	activeSessionID sessiontypes.SessionID
	activeInfo      *sessiontypes.SessionInformation
	curConn         *wire.Conn
	curNetConn      net.Conn
	cancel          context.CancelFunc

	doneChan chan struct{}
}

// New returns an Engine serving listener. listener is typically created with
// Listen, which applies the NODELAY/REUSEADDR/no-linger socket options.
func New(listener net.Listener, opts Options) *Engine {
	return &Engine{
		listener: listener,
		opts:     opts,
		doneChan: make(chan struct{}),
	}
}

// Serve runs the accept loop until ctx is canceled or Close is called.
func (e *Engine) Serve(ctx context.Context) error {
	defer close(e.doneChan)

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	for {
		netConn, err := e.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return sessionerrors.ErrCanceled
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("sessionproto: listener closed: %w", err)
			}
			log.Warn("accept failed", "error", err)
			continue
		}

		if tc, ok := netConn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}

		e.handleConnection(ctx, netConn)

		if ctx.Err() != nil {
			return sessionerrors.ErrCanceled
		}
	}
}

// handleConnection owns one client connection end to end: reads and writes
// are serialized within it, with no pipelining, matching the single
// long-running accept task described for M2.
func (e *Engine) handleConnection(ctx context.Context, netConn net.Conn) {
	wc := wire.NewConn(netConn)

	e.mu.Lock()
	e.curConn = wc
	e.curNetConn = netConn
	e.mu.Unlock()

	defer func() {
		netConn.Close()
		e.mu.Lock()
		e.curConn = nil
		e.curNetConn = nil
		e.mu.Unlock()
	}()

	for {
		payload, err := wc.ReadFrame(ctx)
		if err != nil {
			switch {
			case errors.Is(err, sessionerrors.ErrPeerClosed):
				log.Debug("peer closed connection")
			case errors.Is(err, sessionerrors.ErrCanceled):
				log.Debug("frame read canceled")
			case errors.Is(err, sessionerrors.ErrBadFrame):
				log.Warn("bad frame, closing connection", "error", err)
			default:
				log.Warn("frame read failed", "error", err)
			}
			return
		}

		var disc discriminator
		if err := json.Unmarshal(payload, &disc); err != nil || disc.Event == "" || disc.SessionID == "" {
			// Rule 1: malformed JSON or missing Event/SessionID is ignored;
			// the connection stays open.
			continue
		}

		if closeConn := e.dispatch(ctx, wc, disc, payload); closeConn {
			return
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, wc *wire.Conn, disc discriminator, raw []byte) (closeConn bool) {
	e.mu.Lock()
	hasActive := e.hasActive
	activeID := e.activeSessionID
	e.mu.Unlock()

	if disc.Event == eventRequestConnection {
		if hasActive {
			// Rule 3: RequestConnection while a session is already active.
			e.sendDisconnectFrame(ctx, wc, disc.SessionID)
			return false
		}
	} else if !hasActive || sessiontypes.SessionID(disc.SessionID) != activeID {
		// Rule 2: any other event carrying a foreign or absent session id.
		e.sendDisconnectFrame(ctx, wc, disc.SessionID)
		return false
	}

	switch disc.Event {
	case eventRequestConnection:
		return e.handleRequestConnection(ctx, wc, raw)
	case eventRequestBarcodePresentation:
		e.handleRequestBarcodePresentation(ctx, wc, disc)
	case eventSessionStatusDidChange:
		e.handleSessionStatusDidChange(ctx, wc, raw)
	default:
		log.Debug("ignoring unrecognized event", "event", disc.Event)
	}
	return false
}

func (e *Engine) handleRequestConnection(ctx context.Context, wc *wire.Conn, raw []byte) (closeConn bool) {
	var req requestConnection
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Warn("malformed RequestConnection", "error", err)
		return false
	}

	if req.ProtocolVersion != protocolVersion {
		// Rule 4: version mismatch closes the connection.
		e.sendDisconnectFrame(ctx, wc, req.SessionID)
		if e.opts.Presenter != nil {
			e.opts.Presenter.ConnectionErrorOccurred(fmt.Errorf(
				"sessionproto: unsupported protocol version %q: %w", req.ProtocolVersion, sessionerrors.ErrProtocolViolation))
		}
		return true
	}

	sessionID := sessiontypes.SessionID(req.SessionID)
	clientID := sessiontypes.ClientID(req.ClientID)

	token, err := e.opts.TokenIssuer.IssueClientToken(ctx, clientID)
	if err != nil {
		log.Warn("issueClientToken failed", "error", err)
		e.sendDisconnectFrame(ctx, wc, req.SessionID)
		return false
	}

	fingerprint, err := e.opts.TokenIssuer.CertificateFingerprint(ctx, "SHA256")
	if err != nil {
		log.Warn("certificateFingerprint failed", "error", err)
		e.sendDisconnectFrame(ctx, wc, req.SessionID)
		return false
	}

	info := sessiontypes.SessionInformation{
		SessionID: sessionID,
		ClientID:  clientID,
		Barcode: sessiontypes.BarcodePayload{
			ClientToken:            token,
			CertificateFingerprint: fingerprint,
		},
	}

	e.mu.Lock()
	e.hasActive = true
	e.activeSessionID = sessionID
	e.activeInfo = &info
	e.mu.Unlock()

	serverID, err := e.opts.Identity.GetOrCreate()
	if err != nil {
		log.Error("getOrCreateServerId failed", "error", err)
	}

	ack := acknowledgeConnection{
		Event:     eventAcknowledgeConnection,
		SessionID: req.SessionID,
		ServerID:  serverID,
	}
	if !e.opts.ForceBarcode {
		fp := fingerprint
		ack.CertificateFingerprint = &fp
	}

	if err := e.writeFrame(ctx, wc, ack); err != nil {
		log.Warn("failed to send AcknowledgeConnection", "error", err)
	}
	return false
}

func (e *Engine) handleRequestBarcodePresentation(ctx context.Context, wc *wire.Conn, disc discriminator) {
	e.mu.Lock()
	info := e.activeInfo
	e.mu.Unlock()
	if info == nil {
		return
	}

	if e.opts.Presenter != nil {
		e.opts.Presenter.BarcodePresentationRequested(*info)
	}

	ack := simpleSessionMessage{Event: eventAcknowledgeBarcodePresentation, SessionID: disc.SessionID}
	if err := e.writeFrame(ctx, wc, ack); err != nil {
		log.Warn("failed to send AcknowledgeBarcodePresentation", "error", err)
	}
}

func (e *Engine) handleSessionStatusDidChange(ctx context.Context, wc *wire.Conn, raw []byte) {
	var msg sessionStatusDidChange
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn("malformed SessionStatusDidChange", "error", err)
		return
	}

	status := sessiontypes.SessionStatus(msg.Status)
	if e.opts.Presenter != nil {
		e.opts.Presenter.SessionStatusDidChange(status)
	}

	switch status {
	case sessiontypes.StatusWaiting:
		if err := e.opts.TokenIssuer.StartService(ctx, mediaServiceVersion); err != nil {
			log.Warn("startService failed", "error", err)
			return
		}
		if err := e.opts.Poller.AwaitRuntimeMatches(ctx, true); err != nil {
			log.Warn("awaitRuntimeMatches failed", "error", err)
			return
		}
		ready := simpleSessionMessage{Event: eventMediaStreamIsReady, SessionID: msg.SessionID}
		if err := e.writeFrame(ctx, wc, ready); err != nil {
			log.Warn("failed to send MediaStreamIsReady", "error", err)
		}

	case sessiontypes.StatusDisconnected:
		e.mu.Lock()
		e.hasActive = false
		e.activeSessionID = ""
		e.activeInfo = nil
		e.mu.Unlock()

		if e.opts.OnSessionDisconnectRequested != nil {
			e.opts.OnSessionDisconnectRequested()
		}
	}
}

// SendDisconnect clears the active session iff sessionID is the currently
// active one, then writes RequestSessionDisconnect if a connection is open.
func (e *Engine) SendDisconnect(ctx context.Context, sessionID sessiontypes.SessionID) error {
	e.mu.Lock()
	if e.hasActive && e.activeSessionID == sessionID {
		e.hasActive = false
		e.activeSessionID = ""
		e.activeInfo = nil
	}
	conn := e.curConn
	e.mu.Unlock()

	if conn == nil {
		return nil
	}
	return e.writeFrame(ctx, conn, simpleSessionMessage{Event: eventRequestSessionDisconnect, SessionID: string(sessionID)})
}

func (e *Engine) sendDisconnectFrame(ctx context.Context, wc *wire.Conn, sessionID string) {
	msg := simpleSessionMessage{Event: eventRequestSessionDisconnect, SessionID: sessionID}
	if err := e.writeFrame(ctx, wc, msg); err != nil {
		log.Warn("failed to send RequestSessionDisconnect", "error", err)
	}
}

func (e *Engine) writeFrame(ctx context.Context, wc *wire.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sessionproto: marshal: %w", err)
	}
	return wc.WriteFrame(ctx, data)
}

// Rebind swaps the TokenIssuer and RuntimeWaiter the engine dispatches
// into on the next RequestConnection/SessionStatusDidChange, without
// disturbing any connection already in Acknowledged state. The coordinator
// calls this after a SessionDisconnectRequested restart reconstructs L4/M1
// with fresh instances.
func (e *Engine) Rebind(tokenIssuer TokenIssuer, poller RuntimeWaiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.TokenIssuer = tokenIssuer
	e.opts.Poller = poller
}

// Close schedules a hard 3-second teardown deadline, sends a best-effort
// disconnect for the active session, cancels the accept loop, closes the
// listener and any open connection, and waits for the accept task to exit.
func (e *Engine) Close() error {
	e.mu.Lock()
	sessionID := e.activeSessionID
	hasActive := e.hasActive
	netConn := e.curNetConn
	cancel := e.cancel
	e.mu.Unlock()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), teardownDeadline)
	defer cancelTimeout()

	if hasActive {
		if err := e.SendDisconnect(ctx, sessionID); err != nil {
			log.Warn("best-effort disconnect failed during teardown", "error", err)
		}
	}

	if cancel != nil {
		cancel()
	}
	if netConn != nil {
		netConn.Close()
	}
	if err := e.listener.Close(); err != nil {
		log.Warn("listener close failed", "error", err)
	}

	select {
	case <-e.doneChan:
	case <-ctx.Done():
		log.Warn("session protocol engine teardown exceeded deadline")
	}
	return nil
}
