package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/hostbridge/mcp-host-go/auth"
	"github.com/hostbridge/mcp-host-go/mcp"
	"github.com/hostbridge/mcp-host-go/server"
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
	postMediaTypes       = []contenttype.MediaType{jsonMediaType, eventStreamMediaType}
	getMediaTypes        = []contenttype.MediaType{eventStreamMediaType}
)

const (
	lastEventIDHeader        = "Last-Event-ID"
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
	wwwAuthenticateHeader    = "WWW-Authenticate"

	defaultEndpoint  = "/mcp"
	defaultKeepAlive = 15 * time.Second
	defaultSweep     = time.Minute
)

// Handler is the session-oriented HTTP transport: a single endpoint serving
// POST (client-to-server messages), GET (live SSE stream with resumption),
// DELETE (client-initiated termination) and OPTIONS (CORS preflight), plus
// /health and / identity routes.
type Handler struct {
	srv *server.Server
	log *slog.Logger

	endpoint       string
	allowedOrigins []string
	loopback       bool
	authn          auth.Authenticator
	realm          string
	allowDelete    bool
	keepAlive      time.Duration

	sessions *sessionTable
	mux      *http.ServeMux
}

// Option customizes a Handler.
type Option func(*Handler)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithEndpoint sets the MCP endpoint path. Defaults to /mcp.
func WithEndpoint(path string) Option {
	return func(h *Handler) {
		if path != "" {
			h.endpoint = path
		}
	}
}

// WithAllowedOrigins sets the explicit Origin allow-list. Without one, only
// localhost origins are accepted, and only when the server binds loopback.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) { h.allowedOrigins = origins }
}

// WithLoopbackBind declares that the server binds a loopback address, which
// enables the default localhost-only origin allow-list.
func WithLoopbackBind(loopback bool) Option {
	return func(h *Handler) { h.loopback = loopback }
}

// WithAuthenticator enables bearer-credential validation on every request to
// the MCP endpoint.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(h *Handler) { h.authn = a }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges.
func WithRealm(realm string) Option {
	return func(h *Handler) { h.realm = realm }
}

// WithClientTermination controls whether DELETE may terminate a session.
// Defaults to allowed.
func WithClientTermination(allowed bool) Option {
	return func(h *Handler) { h.allowDelete = allowed }
}

// WithKeepAliveInterval sets the SSE keep-alive comment cadence.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.keepAlive = d
		}
	}
}

// WithSessionTTL sets the idle TTL after which the sweep removes a session.
func WithSessionTTL(ttl time.Duration) Option {
	return func(h *Handler) {
		if ttl > 0 {
			h.sessions.ttl = ttl
		}
	}
}

// WithEventBufferLimits caps each session's replay buffer by entry count and
// entry age.
func WithEventBufferLimits(maxSize int, maxAge time.Duration) Option {
	return func(h *Handler) {
		h.sessions.bufferSize = maxSize
		h.sessions.bufferAge = maxAge
	}
}

// NewHandler constructs the transport around srv and starts the session
// sweeper, which runs until ctx ends.
func NewHandler(ctx context.Context, srv *server.Server, opts ...Option) *Handler {
	h := &Handler{
		srv:         srv,
		log:         slog.Default(),
		endpoint:    defaultEndpoint,
		allowDelete: true,
		keepAlive:   defaultKeepAlive,
		sessions:    newSessionTable(0, 0, 0),
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(h.endpoint, h.handleEndpoint)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/{$}", h.handleIdentity)
	h.mux = mux

	go h.runSweeper(ctx)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(defaultSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.sessions.sweep(); n > 0 {
				h.log.InfoContext(ctx, "session.sweep", slog.Int("expired", n))
			}
		}
	}
}

func (h *Handler) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	case http.MethodOptions:
		h.handleOptions(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// validateRequest runs the transport-level gate shared by POST, GET and
// DELETE: origin allow-list, protocol version header, bearer credential.
// It writes the rejection itself and reports whether to continue.
func (h *Handler) validateRequest(w http.ResponseWriter, r *http.Request) bool {
	ctx := r.Context()

	if origin := r.Header.Get("Origin"); origin != "" && !h.originAllowed(origin) {
		h.log.InfoContext(ctx, "http.origin.rejected", slog.String("origin", origin))
		writeJSONError(w, http.StatusForbidden, "origin not allowed")
		return false
	}

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && !mcp.IsSupportedProtocolVersion(pv) {
		h.log.InfoContext(ctx, "http.protocol_version.unsupported", slog.String("version", pv))
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unsupported protocol version: %s", pv))
		return false
	}

	if h.authn != nil {
		tok, ok := bearerToken(r)
		if !ok {
			w.Header().Set(wwwAuthenticateHeader, h.bearerChallenge(""))
			writeJSONError(w, http.StatusUnauthorized, "missing bearer credential")
			return false
		}
		if _, err := h.authn.CheckAuthentication(ctx, tok); err != nil {
			switch {
			case errors.Is(err, auth.ErrInsufficientScope):
				w.Header().Set(wwwAuthenticateHeader, h.bearerChallenge("insufficient_scope"))
				writeJSONError(w, http.StatusForbidden, "insufficient scope")
			case errors.Is(err, auth.ErrUnauthorized):
				w.Header().Set(wwwAuthenticateHeader, h.bearerChallenge("invalid_token"))
				writeJSONError(w, http.StatusUnauthorized, "invalid credential")
			default:
				h.log.ErrorContext(ctx, "http.auth.err", slog.String("err", err.Error()))
				writeJSONError(w, http.StatusInternalServerError, "authentication error")
			}
			h.log.InfoContext(ctx, "http.auth.fail", slog.String("err", err.Error()))
			return false
		}
	}
	return true
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.DebugContext(ctx, "http.post.start")

	if !h.validateRequest(w, r) {
		return
	}

	if ctype, err := contenttype.GetMediaType(r); err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batches are not supported")
		return
	}

	var probe struct {
		Method string `json:"method"`
	}
	_ = json.Unmarshal(raw, &probe)

	var sess *session
	var conn *server.Conn
	switch {
	case probe.Method == string(mcp.InitializeMethod):
		// A new logical connection: mint a session no matter what the session
		// header claimed.
		sess = h.sessions.mint(ctx, h.srv)
		conn = sess.conn
		w.Header().Set(mcpSessionIDHeader, sess.id)
		h.log.InfoContext(ctx, "session.mint", slog.String("session_id", sess.id))
	case r.Header.Get(mcpSessionIDHeader) != "":
		var err error
		sess, err = h.sessions.load(r.Header.Get(mcpSessionIDHeader))
		if err != nil {
			h.log.InfoContext(ctx, "session.load.miss", slog.String("session_id", r.Header.Get(mcpSessionIDHeader)))
			writeJSONError(w, http.StatusNotFound, "unknown session")
			return
		}
		conn = sess.conn
	default:
		// No session and not an initialize: a throwaway connection serves
		// stateless traffic like ping; everything else fails the handshake
		// gate inside the dispatcher.
		conn = h.srv.NewConn()
	}

	out := conn.HandleMessage(ctx, raw)

	if pv := conn.ProtocolVersion(); pv != "" {
		w.Header().Set(mcpProtocolVersionHeader, pv)
	}

	if out == nil {
		w.WriteHeader(http.StatusAccepted)
		h.log.DebugContext(ctx, "http.post.accepted", slog.Duration("dur", time.Since(start)))
		return
	}

	if h.wantsEventStream(r) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}
		wf := &lockedWriteFlusher{w: w, f: flusher}
		setSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		if err := writeSSEEvent(wf, uuid.NewString(), out); err != nil {
			h.log.WarnContext(ctx, "http.post.sse_write_fail", slog.String("err", err.Error()))
		}
		h.log.DebugContext(ctx, "http.post.ok", slog.String("mode", "sse"), slog.Duration("dur", time.Since(start)))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.log.WarnContext(ctx, "http.post.write_fail", slog.String("err", err.Error()))
	}
	h.log.DebugContext(ctx, "http.post.ok", slog.String("mode", "json"), slog.Duration("dur", time.Since(start)))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.log.DebugContext(ctx, "http.get.start")

	if !h.validateRequest(w, r) {
		return
	}

	if _, _, err := contenttype.GetAcceptableMediaType(r, getMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "accept must include text/event-stream")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing session id")
		return
	}
	sess, err := h.sessions.load(sessID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "unknown session")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	wf := &lockedWriteFlusher{w: w, f: flusher}

	// Subscribe before replaying so nothing published in between is lost;
	// replay may then duplicate an event the live channel also carries, which
	// is within the at-least-once contract.
	live, unsubscribe := sess.subscribe()
	defer unsubscribe()

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	for _, event := range sess.buffer.eventsAfter(r.Header.Get(lastEventIDHeader)) {
		if err := writeSSEEvent(wf, event.ID, event.Payload); err != nil {
			h.log.DebugContext(ctx, "http.get.replay_write_fail", slog.String("err", err.Error()))
			return
		}
	}
	h.log.InfoContext(ctx, "http.get.stream_open", slog.String("session_id", sessID))

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "http.get.stream_closed", slog.String("session_id", sessID))
			return
		case event := <-live:
			sess.touch()
			if err := writeSSEEvent(wf, event.ID, event.Payload); err != nil {
				h.log.DebugContext(ctx, "http.get.write_fail", slog.String("err", err.Error()))
				return
			}
		case <-keepAlive.C:
			// An attached stream is activity even when idle, or the sweep
			// would expire a session out from under its own live connection.
			sess.touch()
			if err := writeSSEComment(wf, "keep-alive"); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.validateRequest(w, r) {
		return
	}
	if !h.allowDelete {
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		writeJSONError(w, http.StatusMethodNotAllowed, "client-initiated termination disabled")
		return
	}
	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing session id")
		return
	}
	if err := h.sessions.delete(sessID); err != nil {
		writeJSONError(w, http.StatusNotFound, "unknown session")
		return
	}
	h.log.InfoContext(ctx, "session.delete", slog.String("session_id", sessID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleOptions(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && h.originAllowed(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
		"Authorization", "Content-Type", mcpSessionIDHeader, mcpProtocolVersionHeader, lastEventIDHeader,
	}, ", "))
	w.Header().Set("Access-Control-Max-Age", "3600")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": h.sessions.len(),
	})
}

func (h *Handler) handleIdentity(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":     h.srv.Name(),
		"version":  h.srv.Version(),
		"endpoint": h.endpoint,
	})
}

// originAllowed applies the allow-list policy: an explicit list wins; without
// one, localhost origins pass only on a loopback bind, and an externally
// bound server without a list trusts no origin at all.
func (h *Handler) originAllowed(origin string) bool {
	if len(h.allowedOrigins) > 0 {
		for _, allowed := range h.allowedOrigins {
			if strings.EqualFold(origin, allowed) {
				return true
			}
		}
		return false
	}
	if !h.loopback {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func (h *Handler) wantsEventStream(r *http.Request) bool {
	if r.Header.Get("Accept") == "" {
		return false
	}
	mt, _, err := contenttype.GetAcceptableMediaType(r, postMediaTypes)
	if err != nil {
		return false
	}
	return mt.Matches(eventStreamMediaType)
}

func (h *Handler) bearerChallenge(errCode string) string {
	var sb strings.Builder
	sb.WriteString("Bearer")
	if h.realm != "" {
		fmt.Fprintf(&sb, " realm=%q", h.realm)
	}
	if errCode != "" {
		if h.realm != "" {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, " error=%q", errCode)
	}
	return sb.String()
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// lockedWriteFlusher serializes writes and flushes so keep-alives and events
// never interleave mid-frame.
type lockedWriteFlusher struct {
	mu sync.Mutex
	w  http.ResponseWriter
	f  http.Flusher
}

func (wf *lockedWriteFlusher) Flush() {
	wf.mu.Lock()
	wf.f.Flush()
	wf.mu.Unlock()
}

func writeSSEEvent(wf *lockedWriteFlusher, id string, payload []byte) error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	if id != "" {
		if _, err := fmt.Fprintf(wf.w, "id: %s\n", id); err != nil {
			return fmt.Errorf("write sse id: %w", err)
		}
	}
	if _, err := fmt.Fprintf(wf.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write sse data: %w", err)
	}
	wf.f.Flush()
	return nil
}

func writeSSEComment(wf *lockedWriteFlusher, comment string) error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	if _, err := fmt.Fprintf(wf.w, ": %s\n\n", comment); err != nil {
		return err
	}
	wf.f.Flush()
	return nil
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
