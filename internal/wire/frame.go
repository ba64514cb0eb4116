// Package wire implements the length-prefixed JSON framing used on the
// session protocol's TCP connection: a 4-byte little-endian length header
// followed by exactly that many bytes of UTF-8 JSON.
package wire

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/foveate/hostd/internal/sessionerrors"
)

// MaxFrameSize bounds the length header. Frames larger than this are
// rejected as BadFrame before the payload is even read.
const MaxFrameSize = 64 * 1024

// Conn wraps an io.ReadWriter with the frame codec. Reads are expected from
// a single goroutine; writes are serialized internally so multiple
// goroutines may call WriteFrame concurrently.
type Conn struct {
	rw      io.ReadWriter
	writeMu sync.Mutex
}

// NewConn wraps rw with the frame codec.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// ReadFrame reads one length-prefixed JSON payload, blocking until a full
// frame arrives, ctx is canceled, or an error occurs.
func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, sessionerrors.ErrCanceled
	}

	// On a stream with read deadlines (any net.Conn), cancellation expires
	// the deadline so a blocked read returns promptly.
	if d, ok := c.rw.(interface{ SetReadDeadline(time.Time) error }); ok {
		stop := context.AfterFunc(ctx, func() { _ = d.SetReadDeadline(time.Now()) })
		defer stop()
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(c.rw, header); err != nil {
		if ctx.Err() != nil {
			return nil, sessionerrors.ErrCanceled
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, sessionerrors.ErrPeerClosed
		}
		return nil, fmt.Errorf("wire: read header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame length %d exceeds maximum %d: %w", length, MaxFrameSize, sessionerrors.ErrBadFrame)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(c.rw, payload); err != nil {
			if ctx.Err() != nil {
				return nil, sessionerrors.ErrCanceled
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, sessionerrors.ErrPeerClosed
			}
			return nil, fmt.Errorf("wire: read payload: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, sessionerrors.ErrCanceled
	}

	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("wire: payload is not valid UTF-8: %w", sessionerrors.ErrBadFrame)
	}

	return payload, nil
}

// WriteFrame writes a length-prefixed payload atomically with respect to
// other writers on the same Conn.
func (c *Conn) WriteFrame(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return sessionerrors.ErrCanceled
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("wire: payload length %d exceeds maximum %d: %w", len(payload), MaxFrameSize, sessionerrors.ErrBadFrame)
	}

	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(payload)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.rw.Write(header); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := c.rw.Write(payload); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}

// ReadJSON reads one frame and unmarshals it into v.
func (c *Conn) ReadJSON(ctx context.Context, v any) error {
	payload, err := c.ReadFrame(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}

// WriteJSON marshals v and writes it as one frame.
func (c *Conn) WriteJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal payload: %w", err)
	}
	return c.WriteFrame(ctx, data)
}
