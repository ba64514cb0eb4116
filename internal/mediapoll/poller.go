// Package mediapoll periodically queries the media-service RPC client and
// emits change events when its reported state differs from what was last
// observed.
package mediapoll

import (
	"context"
	"sync"
	"time"

	"github.com/foveate/hostd/internal/logging"
	"github.com/foveate/hostd/internal/sessionerrors"
	"github.com/foveate/hostd/internal/sessiontypes"
	"github.com/foveate/hostd/internal/workerpool"
)

var log = logging.L("mediapoll")

// StatusQuerier is the subset of the media-service RPC client the poller
// depends on. Satisfied by *mediarpc.Client.
type StatusQuerier interface {
	QueryStatus(ctx context.Context) (sessiontypes.MediaServiceState, bool, error)
}

// StatusPollInterval is how often queryStatus is called.
const StatusPollInterval = 200 * time.Millisecond

// StateChangePollDelay is the polling granularity used by
// AwaitRuntimeMatches while waiting for a runtime transition to land.
const StateChangePollDelay = 50 * time.Millisecond

// ChangeFunc is invoked with the new state whenever it differs from the
// last observed one. It is called without the Poller's internal lock held.
type ChangeFunc func(sessiontypes.MediaServiceState)

// Poller owns the single polling task that runs for the Coordinator's
// lifetime.
type Poller struct {
	client   StatusQuerier
	onChange ChangeFunc
	pool     *workerpool.Pool

	mu   sync.RWMutex
	last sessiontypes.MediaServiceState

	stopOnce sync.Once
	stopChan chan struct{}
}

// New returns a Poller that queries client and dispatches onChange through
// pool, so the protocol engine and coordinator never run their callback
// handling on the polling goroutine itself.
func New(client StatusQuerier, pool *workerpool.Pool, onChange ChangeFunc) *Poller {
	return &Poller{
		client:   client,
		pool:     pool,
		onChange: onChange,
		stopChan: make(chan struct{}),
	}
}

// Run blocks, polling until ctx is canceled or Stop is called.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(StatusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	state, present, err := p.client.QueryStatus(ctx)
	if err != nil || !present {
		if err != nil {
			log.Debug("query status failed, treating as absent", "error", err)
		}
		state = sessiontypes.MediaServiceState{}
	}

	p.mu.Lock()
	changed := !state.Equal(p.last)
	if changed {
		p.last = state
	}
	p.mu.Unlock()

	if changed {
		if !p.pool.Submit(func() { p.onChange(state) }) {
			log.Warn("dropped media state change notification, worker pool saturated")
		}
	}
}

// Last returns the most recently observed state.
func (p *Poller) Last() sessiontypes.MediaServiceState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// AwaitRuntimeMatches blocks until the last-observed OpenXRRuntimeRunning
// flag equals expected, or ctx is canceled. Used by the session protocol
// engine to hold the handshake open until startService/stopService has
// taken effect.
func (p *Poller) AwaitRuntimeMatches(ctx context.Context, expected bool) error {
	if p.Last().OpenXRRuntimeRunning == expected {
		return nil
	}

	ticker := time.NewTicker(StateChangePollDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopChan:
			return sessionerrors.ErrCanceled
		case <-ticker.C:
			if p.Last().OpenXRRuntimeRunning == expected {
				return nil
			}
		}
	}
}

// Stop ends the polling loop. Safe to call multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
}
