package streaminghttp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hostbridge/mcp-host-go/auth/authtest"
	"github.com/hostbridge/mcp-host-go/mcp"
	"github.com/hostbridge/mcp-host-go/server"
)

func newTestHandler(t *testing.T, opts ...Option) (*Handler, *httptest.Server) {
	t.Helper()
	srv := server.New("http-test", "0.0.0")
	srv.Tools().Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		text, _ := args["text"].(string)
		return text, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	h := NewHandler(ctx, srv, opts...)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return h, ts
}

func postJSON(t *testing.T, ts *httptest.Server, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"t"}}}`

// initSession runs the initialize POST plus the initialized notification and
// returns the minted session id.
func initSession(t *testing.T, ts *httptest.Server, headers map[string]string) string {
	t.Helper()
	resp := postJSON(t, ts, initializeBody, headers)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d", resp.StatusCode)
	}
	sessID := resp.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		t.Fatal("initialize response lacks session id header")
	}
	h2 := map[string]string{mcpSessionIDHeader: sessID}
	for k, v := range headers {
		h2[k] = v
	}
	ack := postJSON(t, ts, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, h2)
	ack.Body.Close()
	if ack.StatusCode != http.StatusAccepted {
		t.Fatalf("initialized notification status = %d, want 202", ack.StatusCode)
	}
	return sessID
}

func TestPostInitializeMintsSession(t *testing.T) {
	_, ts := newTestHandler(t)
	resp := postJSON(t, ts, initializeBody, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get(mcpSessionIDHeader) == "" {
		t.Fatal("no Mcp-Session-Id response header")
	}
	if got := resp.Header.Get(mcpProtocolVersionHeader); got != "2025-06-18" {
		t.Fatalf("protocol version header = %q", got)
	}
	var envelope struct {
		Result mcp.InitializeResult `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Result.ProtocolVersion != "2025-06-18" {
		t.Fatalf("negotiated = %q", envelope.Result.ProtocolVersion)
	}
}

func TestPostToolCallOnSession(t *testing.T) {
	_, ts := newTestHandler(t)
	sessID := initSession(t, ts, nil)

	resp := postJSON(t, ts, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`,
		map[string]string{mcpSessionIDHeader: sessID})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var envelope struct {
		Result mcp.CallToolResult `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Result.IsError || envelope.Result.Content[0].Text != "hi" {
		t.Fatalf("result = %+v", envelope.Result)
	}
}

func TestPostUnknownSessionIs404(t *testing.T) {
	_, ts := newTestHandler(t)
	resp := postJSON(t, ts, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		map[string]string{mcpSessionIDHeader: "ghost"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPostOriginPolicy(t *testing.T) {
	t.Run("external bind rejects all origins by default", func(t *testing.T) {
		_, ts := newTestHandler(t)
		resp := postJSON(t, ts, initializeBody, map[string]string{"Origin": "https://evil.example"})
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", resp.StatusCode)
		}
	})
	t.Run("loopback bind allows localhost", func(t *testing.T) {
		_, ts := newTestHandler(t, WithLoopbackBind(true))
		resp := postJSON(t, ts, initializeBody, map[string]string{"Origin": "http://localhost:3000"})
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		resp = postJSON(t, ts, initializeBody, map[string]string{"Origin": "https://evil.example"})
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", resp.StatusCode)
		}
	})
	t.Run("explicit allow-list wins", func(t *testing.T) {
		_, ts := newTestHandler(t, WithAllowedOrigins("https://app.example"))
		resp := postJSON(t, ts, initializeBody, map[string]string{"Origin": "https://app.example"})
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		resp = postJSON(t, ts, initializeBody, map[string]string{"Origin": "http://localhost:3000"})
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want 403 for origin off the list", resp.StatusCode)
		}
	})
}

func TestPostUnsupportedProtocolVersionHeader(t *testing.T) {
	_, ts := newTestHandler(t)
	resp := postJSON(t, ts, initializeBody, map[string]string{mcpProtocolVersionHeader: "1999-12-31"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBearerAuthGate(t *testing.T) {
	authn := authtest.NewStatic(map[string]string{"sesame": "user-1"})
	_, ts := newTestHandler(t, WithAuthenticator(authn), WithRealm("mcp"))

	resp := postJSON(t, ts, initializeBody, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing credential status = %d, want 401", resp.StatusCode)
	}
	if ch := resp.Header.Get(wwwAuthenticateHeader); !strings.HasPrefix(ch, "Bearer") {
		t.Fatalf("WWW-Authenticate = %q", ch)
	}

	resp = postJSON(t, ts, initializeBody, map[string]string{"Authorization": "Bearer wrong"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad credential status = %d, want 401", resp.StatusCode)
	}

	resp = postJSON(t, ts, initializeBody, map[string]string{"Authorization": "Bearer sesame"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("good credential status = %d, want 200", resp.StatusCode)
	}
}

func TestPostAcceptEventStreamGetsOneShotSSE(t *testing.T) {
	_, ts := newTestHandler(t)
	resp := postJSON(t, ts, initializeBody, map[string]string{"Accept": "text/event-stream"})
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data: ") {
			data = strings.TrimPrefix(scanner.Text(), "data: ")
			break
		}
	}
	if data == "" {
		t.Fatal("no SSE data frame in response")
	}
	var envelope struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil || envelope.ID != float64(1) {
		t.Fatalf("SSE frame payload = %q", data)
	}
}

func TestGetStreamDeliversNotifications(t *testing.T) {
	h, ts := newTestHandler(t, WithKeepAliveInterval(25*time.Millisecond))
	sessID := initSession(t, ts, nil)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/mcp", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(mcpSessionIDHeader, sessID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp, err := ts.Client().Do(req.WithContext(ctx))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// Registering a tool fires a list_changed notification into the stream.
	h.srv.Tools().Register("late_arrival", func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })

	var sawKeepAlive, sawNotification bool
	deadline := time.After(5 * time.Second)
	for !sawKeepAlive || !sawNotification {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed early")
			}
			if strings.HasPrefix(line, ": ") {
				sawKeepAlive = true
			}
			if strings.HasPrefix(line, "data: ") && strings.Contains(line, string(mcp.ToolsListChangedNotificationMethod)) {
				sawNotification = true
			}
		case <-deadline:
			t.Fatalf("timed out: keepAlive=%v notification=%v", sawKeepAlive, sawNotification)
		}
	}
}

func TestGetReplayAfterLastEventID(t *testing.T) {
	h, ts := newTestHandler(t)
	sessID := initSession(t, ts, nil)
	sess, err := h.sessions.load(sessID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Three buffered events while no stream is attached.
	for i := 1; i <= 3; i++ {
		sess.publish(bufferedEvent{
			ID:      fmt.Sprintf("evt-%d", i),
			Payload: []byte(fmt.Sprintf(`{"jsonrpc":"2.0","method":"notifications/message","params":{"data":%d}}`, i)),
			AddedAt: time.Now(),
		})
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/mcp", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(mcpSessionIDHeader, sessID)
	req.Header.Set(lastEventIDHeader, "evt-1")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := ts.Client().Do(req.WithContext(ctx))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var ids []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(ids) < 2 {
		if strings.HasPrefix(scanner.Text(), "id: ") {
			ids = append(ids, strings.TrimPrefix(scanner.Text(), "id: "))
		}
	}
	if len(ids) != 2 || ids[0] != "evt-2" || ids[1] != "evt-3" {
		t.Fatalf("replayed ids = %v, want [evt-2 evt-3]", ids)
	}
}

func TestOpenStreamKeepsSessionAlive(t *testing.T) {
	h, ts := newTestHandler(t,
		WithSessionTTL(200*time.Millisecond),
		WithKeepAliveInterval(20*time.Millisecond))
	sessID := initSession(t, ts, nil)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/mcp", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(mcpSessionIDHeader, sessID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp, err := ts.Client().Do(req.WithContext(ctx))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
		}
	}()

	// Idle well past the TTL with only keep-alives flowing, then sweep.
	time.Sleep(500 * time.Millisecond)
	if n := h.sessions.sweep(); n != 0 {
		t.Fatalf("sweep expired %d sessions under a live stream", n)
	}
	if _, err := h.sessions.load(sessID); err != nil {
		t.Fatalf("session gone despite attached stream: %v", err)
	}
}

func TestDeleteTerminatesSession(t *testing.T) {
	_, ts := newTestHandler(t)
	sessID := initSession(t, ts, nil)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	req.Header.Set(mcpSessionIDHeader, sessID)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	// The session and its history are gone.
	post := postJSON(t, ts, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		map[string]string{mcpSessionIDHeader: sessID})
	post.Body.Close()
	if post.StatusCode != http.StatusNotFound {
		t.Fatalf("post after delete = %d, want 404", post.StatusCode)
	}
}

func TestDeleteDisabled(t *testing.T) {
	_, ts := newTestHandler(t, WithClientTermination(false))
	sessID := initSession(t, ts, nil)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	req.Header.Set(mcpSessionIDHeader, sessID)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestOptionsPreflight(t *testing.T) {
	_, ts := newTestHandler(t, WithAllowedOrigins("https://app.example"))
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/mcp", nil)
	req.Header.Set("Origin", "https://app.example")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow-origin = %q", got)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), mcpSessionIDHeader) {
		t.Fatal("session header missing from preflight allow-headers")
	}
}

func TestHealthAndIdentityRoutes(t *testing.T) {
	_, ts := newTestHandler(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var health map[string]any
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health["status"] != "ok" {
		t.Fatalf("health = %v", health)
	}

	resp, err = ts.Client().Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	var identity map[string]any
	json.NewDecoder(resp.Body).Decode(&identity)
	resp.Body.Close()
	if identity["name"] != "http-test" {
		t.Fatalf("identity = %v", identity)
	}
}

func TestEventBufferCaps(t *testing.T) {
	b := newEventBuffer(3, time.Hour)
	for i := 1; i <= 5; i++ {
		b.add(bufferedEvent{ID: fmt.Sprintf("e%d", i), AddedAt: time.Now()})
	}
	if b.size() != 3 {
		t.Fatalf("size = %d, want 3", b.size())
	}
	if got := b.eventsAfter("e3"); len(got) != 2 || got[0].ID != "e4" || got[1].ID != "e5" {
		t.Fatalf("eventsAfter(e3) = %v", got)
	}
	// Evicted or never-seen ids replay nothing.
	if got := b.eventsAfter("e1"); got != nil {
		t.Fatalf("eventsAfter(evicted) = %v, want nil", got)
	}

	aged := newEventBuffer(10, 10*time.Millisecond)
	aged.add(bufferedEvent{ID: "old", AddedAt: time.Now().Add(-time.Second)})
	aged.add(bufferedEvent{ID: "new", AddedAt: time.Now()})
	if aged.size() != 1 {
		t.Fatalf("aged size = %d, want expired entry dropped", aged.size())
	}
}
