// Package coordinator is the composition root (T): it validates
// configuration, constructs the advertiser, process supervisor, RPC
// client, state poller, and protocol engine in dependency order, relays
// events between them and the Presenter, and owns the
// teardown-then-relisten cycle triggered by a client-initiated disconnect.
package coordinator

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/foveate/hostd/internal/advertiser"
	"github.com/foveate/hostd/internal/config"
	"github.com/foveate/hostd/internal/identity"
	"github.com/foveate/hostd/internal/logging"
	"github.com/foveate/hostd/internal/logsink"
	"github.com/foveate/hostd/internal/mediapoll"
	"github.com/foveate/hostd/internal/mediarpc"
	"github.com/foveate/hostd/internal/presenter"
	"github.com/foveate/hostd/internal/sessionerrors"
	"github.com/foveate/hostd/internal/sessionproto"
	"github.com/foveate/hostd/internal/sessiontypes"
	"github.com/foveate/hostd/internal/supervisor"
	"github.com/foveate/hostd/internal/workerpool"
)

var log = logging.L("coordinator")

const (
	pollWorkers   = 2
	pollQueueSize = 8
)

// Coordinator owns the daemon's entire component graph for one run. Not
// safe for concurrent Run calls; Close may be called once Run returns or
// concurrently with it to request shutdown.
type Coordinator struct {
	cfg       *config.Config
	presenter presenter.Presenter
	sink      *logsink.Sink
	identity  *identity.Store

	mu         sync.Mutex
	advert     *advertiser.Advertiser
	super      *supervisor.Supervisor
	client     *mediarpc.Client
	pool       *workerpool.Pool
	poller     *mediapoll.Poller
	engine     *sessionproto.Engine
	pollCancel context.CancelFunc
}

// New returns a Coordinator for cfg. cfg must already have passed
// config.ValidateTiered's fatal checks; Run re-validates defensively.
func New(cfg *config.Config, pres presenter.Presenter, sink *logsink.Sink) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		presenter: pres,
		sink:      sink,
		identity:  identity.NewStore(cfg.IdentityFilePath),
	}
}

// Run validates configuration, constructs every component in dependency
// order (L3 advertiser, L5 supervisor, L4 RPC client, M1 poller, M2
// protocol engine), and blocks serving connections until ctx is cancelled
// or the listener fails. Callers should call Close after Run returns to
// release L3/L5/L4/M1 even on error paths that left them partially wired.
func (c *Coordinator) Run(ctx context.Context) error {
	result := c.cfg.ValidateTiered()
	for _, w := range result.Warnings {
		log.Warn("config validation", "error", w)
	}
	if result.HasFatals() {
		return fmt.Errorf("%w: %v", sessionerrors.ErrInvalidConfiguration, result.Fatals[0])
	}

	addrs, err := advertiseAddresses(c.cfg.Address)
	if err != nil {
		log.Warn("could not resolve advertise addresses, advertising with none", "error", err)
	}
	adv, err := advertiser.Advertise(c.cfg.BundleID, c.cfg.Port, addrs)
	if err != nil {
		// L3 failure is non-fatal: the client can still be told the address
		// out of band. Serving continues without discovery.
		log.Error("mdns advertisement failed, continuing without discovery", "error", err)
		if c.presenter != nil {
			c.presenter.ConnectionErrorOccurred(err)
		}
	}
	c.mu.Lock()
	c.advert = adv
	c.mu.Unlock()

	if err := c.startMediaService(ctx); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	listenAddr := fmt.Sprintf("%s:%d", c.cfg.Address, c.cfg.Port)
	ln, err := sessionproto.Listen(ctx, listenAddr)
	if err != nil {
		return fmt.Errorf("coordinator: listen on %s: %w", listenAddr, err)
	}

	c.mu.Lock()
	c.engine = sessionproto.New(ln, sessionproto.Options{
		TokenIssuer:                  c.client,
		Identity:                     c.identity,
		Poller:                       c.poller,
		Presenter:                    c.presenter,
		ForceBarcode:                 c.cfg.ForceBarcode,
		OnSessionDisconnectRequested: c.handleSessionDisconnectRequested,
	})
	engine := c.engine
	c.mu.Unlock()

	log.Info("coordinator started",
		"bundleId", c.cfg.BundleID,
		"address", c.cfg.Address,
		"port", c.cfg.Port,
		"forceBarcode", c.cfg.ForceBarcode,
	)

	return engine.Serve(ctx)
}

// startMediaService constructs and launches L5, L4, and M1. Guarded by
// c.mu against a concurrent restart triggered by the protocol engine.
func (c *Coordinator) startMediaService(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.super = supervisor.New(c.cfg.MediaServiceExecPath, c.sink)
	if err := c.super.Start(ctx); err != nil {
		return fmt.Errorf("start media service: %w", err)
	}

	c.client = mediarpc.New(c.cfg.MediaServiceExecPath, c.cfg.MediaServiceArgs...)

	c.pool = workerpool.New(pollWorkers, pollQueueSize)
	c.poller = mediapoll.New(c.client, c.pool, c.onMediaStateChange)

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	go c.poller.Run(pollCtx)

	return nil
}

// mediaStatusLabel implements composition step 3: translate the joined
// runtime/client/game flags into the three-way UI readiness label.
func mediaStatusLabel(state sessiontypes.MediaServiceState) string {
	switch {
	case state.OpenXRRuntimeRunning && state.ClientConnected && state.GameConnected:
		return "Running"
	case state.OpenXRRuntimeRunning || state.ClientConnected || state.GameConnected:
		return "Paused (details…)"
	default:
		return "Stopped"
	}
}

func (c *Coordinator) onMediaStateChange(state sessiontypes.MediaServiceState) {
	log.Info("media service state changed",
		"status", mediaStatusLabel(state),
		"openXrRuntimeRunning", state.OpenXRRuntimeRunning,
		"clientConnected", state.ClientConnected,
		"gameConnected", state.GameConnected,
	)
}

// handleSessionDisconnectRequested implements composition step 5: a full
// teardown of L5/L4/M1 followed by an immediate rebuild, leaving L3 and
// the M2 accept loop (which is already looping back to accept on its own)
// untouched.
func (c *Coordinator) handleSessionDisconnectRequested() {
	log.Info("session disconnect requested, restarting media service components")

	c.mu.Lock()
	pollCancel := c.pollCancel
	pool := c.pool
	client := c.client
	super := c.super
	c.mu.Unlock()

	if pollCancel != nil {
		pollCancel()
	}
	if pool != nil {
		pool.StopAccepting()
	}
	if client != nil {
		_ = client.Close()
	}
	if super != nil {
		_ = super.Close()
	}

	if err := c.startMediaService(context.Background()); err != nil {
		log.Error("failed to restart media service after disconnect", "error", err)
		return
	}

	c.mu.Lock()
	if c.engine != nil {
		// The running engine still holds the old client/poller in its
		// Options; rebind them so the next RequestConnection sees the fresh
		// instances.
		c.engine.Rebind(c.client, c.poller)
	}
	c.mu.Unlock()
}

// Close tears down every owned component in the reverse of construction
// order: M2, M1, L4, L5, L3.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	engine := c.engine
	pollCancel := c.pollCancel
	pool := c.pool
	client := c.client
	super := c.super
	adv := c.advert
	c.mu.Unlock()

	if engine != nil {
		if err := engine.Close(); err != nil {
			log.Warn("engine close", "error", err)
		}
	}
	if pollCancel != nil {
		pollCancel()
	}
	if pool != nil {
		pool.StopAccepting()
		pool.Drain(context.Background())
	}
	if client != nil {
		_ = client.Close()
	}
	if super != nil {
		_ = super.Close()
	}
	if adv != nil {
		_ = adv.Close()
	}
	return nil
}

// advertiseAddresses resolves the addresses L3 should bind its mDNS record
// to. A configured unspecified address (0.0.0.0 or ::) means "advertise on
// every non-loopback interface address"; anything else is advertised as
// given.
func advertiseAddresses(configured string) ([]net.IP, error) {
	ip := net.ParseIP(configured)
	if ip == nil {
		return nil, fmt.Errorf("advertiseAddresses: %q is not an IP", configured)
	}
	if !ip.IsUnspecified() {
		return []net.IP{ip}, nil
	}

	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var addrs []net.IP
	for _, a := range ifaceAddrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		addrs = append(addrs, ipNet.IP)
	}
	return addrs, nil
}
