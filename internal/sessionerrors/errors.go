// Package sessionerrors collects the sentinel error kinds shared across the
// daemon's components, so call sites can branch with errors.Is instead of
// string matching.
package sessionerrors

import "errors"

var (
	// ErrInvalidConfiguration is returned when startup configuration fails validation.
	ErrInvalidConfiguration = errors.New("hostd: invalid configuration")

	// ErrPeerClosed indicates a clean TCP EOF at a frame boundary.
	ErrPeerClosed = errors.New("hostd: peer closed connection")

	// ErrProtocolViolation covers wrong version, bad session id, and duplicate session cases.
	ErrProtocolViolation = errors.New("hostd: protocol violation")

	// ErrBadFrame indicates an oversized or non-UTF-8 frame.
	ErrBadFrame = errors.New("hostd: malformed frame")

	// ErrRpcUnavailable indicates the media-service RPC client could not connect.
	ErrRpcUnavailable = errors.New("hostd: media service rpc unavailable")

	// ErrRpcCallFailed indicates a media-service RPC operation returned an error.
	ErrRpcCallFailed = errors.New("hostd: media service rpc call failed")

	// ErrChildExited indicates the supervised media-service process exited unexpectedly.
	ErrChildExited = errors.New("hostd: media service child exited")

	// ErrCanceled indicates a cancellation token fired.
	ErrCanceled = errors.New("hostd: operation canceled")
)
