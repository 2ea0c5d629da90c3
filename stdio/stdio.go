// Package stdio implements a single-connection MCP transport over newline-
// delimited JSON-RPC on stdin/stdout. It is intended for embedding the server
// as a subprocess: one process, one client, no session bookkeeping. The
// protocol stream carries nothing but JSON-RPC lines; diagnostics go to slog.
//
// The loop is deliberately cooperative: one read/dispatch/write cycle at a
// time, so a slow tool handler delays subsequent messages on this connection.
// That is an accepted simplification for a single-client transport, not a
// defect.
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/hostbridge/mcp-host-go/server"
)

// Scanner line limit. A single JSON-RPC message larger than this is rejected
// rather than buffered without bound.
const maxLineBytes = 16 * 1024 * 1024

// Handler drives one server connection over a byte stream.
type Handler struct {
	srv *server.Server
	r   io.Reader
	w   io.Writer
	log *slog.Logger

	writeMu sync.Mutex
}

// Option customizes a Handler.
type Option func(*Handler)

// WithIO sets the reader and writer; defaults are os.Stdin and os.Stdout.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger. It must not write to the handler's output
// stream.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHandler constructs a stdio Handler bound to srv.
func NewHandler(srv *server.Server, opts ...Option) *Handler {
	h := &Handler{
		srv: srv,
		r:   os.Stdin,
		w:   os.Stdout,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the read/dispatch/write loop until EOF on the reader or ctx
// ends. A line that fails to parse produces an id-null parse-error response
// and the loop continues; one bad line never terminates the session.
func (h *Handler) Serve(ctx context.Context) error {
	conn := h.srv.NewConn()
	conn.SetNotifier(func(ctx context.Context, msg []byte) {
		if err := h.writeLine(msg); err != nil {
			h.log.WarnContext(ctx, "stdio.notify.write_fail", slog.String("err", err.Error()))
		}
	})

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go conn.WatchListChanged(watchCtx)

	scanner := bufio.NewScanner(h.r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	h.log.InfoContext(ctx, "stdio.serve.start")
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := conn.HandleMessage(ctx, line)
		if resp == nil {
			continue
		}
		if err := h.writeLine(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		h.log.InfoContext(ctx, "stdio.serve.read_fail", slog.String("err", err.Error()))
		return fmt.Errorf("read message: %w", err)
	}
	h.log.InfoContext(ctx, "stdio.serve.eof")
	return nil
}

// writeLine emits one JSON-RPC message followed by a newline. Serialized so
// notifications pushed from other goroutines never interleave mid-line.
func (h *Handler) writeLine(msg []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.w.Write(msg); err != nil {
		return err
	}
	_, err := h.w.Write([]byte("\n"))
	return err
}
