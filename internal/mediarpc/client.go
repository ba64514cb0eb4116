// Package mediarpc is the typed capability facade over the JSON-RPC link to
// the co-resident media-service child process. The link itself is an opaque
// stdio pipe to that process, handled entirely by github.com/viant/jsonrpc's
// stdio transport; this package exposes only the operations the rest of the
// daemon is allowed to call.
package mediarpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/viant/jsonrpc"
	"github.com/viant/jsonrpc/transport/client/stdio"

	"github.com/foveate/hostd/internal/logging"
	"github.com/foveate/hostd/internal/sessionerrors"
	"github.com/foveate/hostd/internal/sessiontypes"
)

var log = logging.L("mediarpc")

// DefaultServiceVersion is the media-service version string, the same value
// the session protocol engine passes to StartService. The configured
// media_service_version does not override it.
const DefaultServiceVersion = "6.0.0"

// Client is a lazily-connected JSON-RPC client to the media service.
// connect() is invoked automatically on first use by any capability call.
type Client struct {
	execPath string
	args     []string

	mu      sync.Mutex
	stdio   *stdio.Client
	running bool
}

// New returns a Client that will launch execPath (with args) the first time
// a capability method is called.
func New(execPath string, args ...string) *Client {
	return &Client{execPath: execPath, args: args}
}

// Connect establishes the stdio-backed JSON-RPC link if it isn't already
// up. Idempotent, as required by spec: repeated calls are a no-op once
// connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.running {
		return nil
	}

	opts := []stdio.Option{}
	if len(c.args) > 0 {
		opts = append(opts, stdio.WithArguments(c.args...))
	}

	cl, err := stdio.New(c.execPath, opts...)
	if err != nil {
		return fmt.Errorf("mediarpc: connect: %w: %w", sessionerrors.ErrRpcUnavailable, err)
	}

	c.stdio = cl
	c.running = true
	log.Info("connected to media service", "exec", c.execPath)
	return nil
}

// StartService asks the media service to start streaming at the given
// version string.
func (c *Client) StartService(ctx context.Context, version string) error {
	_, err := c.call(ctx, "startService", map[string]string{"version": version})
	return err
}

// StopService asks the media service to stop streaming.
func (c *Client) StopService(ctx context.Context) error {
	_, err := c.call(ctx, "stopService", nil)
	return err
}

// QueryStatus returns the media service's last-known state. The second
// return value is false (with a nil error) when the service is not
// currently running — this is not itself an error condition.
func (c *Client) QueryStatus(ctx context.Context) (sessiontypes.MediaServiceState, bool, error) {
	result, err := c.call(ctx, "queryStatus", nil)
	if err != nil {
		return sessiontypes.MediaServiceState{}, false, err
	}
	if result == nil {
		return sessiontypes.MediaServiceState{}, false, nil
	}

	var state sessiontypes.MediaServiceState
	if err := json.Unmarshal(result, &state); err != nil {
		return sessiontypes.MediaServiceState{}, false, fmt.Errorf("mediarpc: decode status: %w: %w", sessionerrors.ErrRpcCallFailed, err)
	}
	return state, true, nil
}

// IssueClientToken asks the media service to mint a client token for the
// given client id, used as part of the QR pairing payload.
func (c *Client) IssueClientToken(ctx context.Context, clientID sessiontypes.ClientID) (string, error) {
	result, err := c.call(ctx, "issueClientToken", map[string]string{"clientId": string(clientID)})
	if err != nil {
		return "", err
	}
	var token string
	if err := json.Unmarshal(result, &token); err != nil {
		return "", fmt.Errorf("mediarpc: decode client token: %w: %w", sessionerrors.ErrRpcCallFailed, err)
	}
	return token, nil
}

// CertificateFingerprint returns the hex-encoded fingerprint of the media
// service's streaming certificate under the given digest algorithm.
func (c *Client) CertificateFingerprint(ctx context.Context, algorithm string) (string, error) {
	result, err := c.call(ctx, "certificateFingerprint", map[string]string{"algorithm": algorithm})
	if err != nil {
		return "", err
	}
	var fingerprint string
	if err := json.Unmarshal(result, &fingerprint); err != nil {
		return "", fmt.Errorf("mediarpc: decode fingerprint: %w: %w", sessionerrors.ErrRpcCallFailed, err)
	}
	return fingerprint, nil
}

// Close tears down the RPC link. Safe to call even if never connected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	c.stdio = nil
	return nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if err := c.connectLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	cl := c.stdio
	c.mu.Unlock()

	request, err := jsonrpc.NewRequest(method, params)
	if err != nil {
		return nil, fmt.Errorf("mediarpc: build request %s: %w: %w", method, sessionerrors.ErrRpcCallFailed, err)
	}

	resp, err := cl.Send(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("mediarpc: %s: %w: %w", method, sessionerrors.ErrRpcUnavailable, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("mediarpc: %s: %w: %s", method, sessionerrors.ErrRpcCallFailed, resp.Error.Message)
	}
	return resp.Result, nil
}
