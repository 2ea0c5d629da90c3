package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/hostbridge/mcp-host-go/internal/jsonrpc"
	"github.com/hostbridge/mcp-host-go/mcp"
	"github.com/hostbridge/mcp-host-go/registry"
	"github.com/hostbridge/mcp-host-go/tasks"
)

// Notifier delivers a server-initiated message (already encoded as JSON-RPC)
// to the connection's client. Transports that cannot push (plain JSON POST
// responses) may leave it unset; notifications are then dropped.
type Notifier func(ctx context.Context, msg []byte)

// Conn is the per-connection protocol state: the handshake state machine, the
// negotiated protocol version and the in-flight request cancellation table.
// One Conn serves one logical client; transports create one per stdio process
// or per HTTP session.
type Conn struct {
	srv *Server
	log *slog.Logger

	mu              sync.Mutex
	initialized     bool
	ready           bool
	protocolVersion string
	clientInfo      mcp.ImplementationInfo
	sessionID       string

	inflightMu sync.Mutex
	inflight   map[string]context.CancelCauseFunc

	notifyMu sync.Mutex
	notify   Notifier
}

// NewConn creates a fresh, uninitialized connection bound to srv.
func (s *Server) NewConn() *Conn {
	return &Conn{
		srv:      s,
		log:      s.log,
		inflight: make(map[string]context.CancelCauseFunc),
	}
}

// SetSessionID associates a transport session with this connection. Task
// records created through the connection carry it.
func (c *Conn) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// SetNotifier installs the callback used for server-initiated notifications
// such as list_changed events.
func (c *Conn) SetNotifier(n Notifier) {
	c.notifyMu.Lock()
	c.notify = n
	c.notifyMu.Unlock()
}

// Ready reports whether the client has sent notifications/initialized.
func (c *Conn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Initialized reports whether the initialize handshake has completed.
func (c *Conn) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// ProtocolVersion returns the negotiated protocol version, or "" before
// initialization.
func (c *Conn) ProtocolVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocolVersion
}

// SessionID returns the transport session associated via SetSessionID.
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ClientInfo returns the identity the client presented during initialize.
func (c *Conn) ClientInfo() mcp.ImplementationInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientInfo
}

// HandleMessage decodes one raw JSON-RPC message and dispatches it. The
// returned bytes are the encoded response, or nil when the input was a
// notification (or a client response). It never returns an error to the
// transport: protocol failures become JSON-RPC error envelopes and the
// connection stays usable.
func (c *Conn) HandleMessage(ctx context.Context, data []byte) []byte {
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.InfoContext(ctx, "conn.message.parse_fail", slog.String("err", err.Error()))
		return mustMarshal(jsonrpc.NewParseErrorResponse(err))
	}

	if req := msg.AsRequest(); req != nil {
		if req.IsNotification() {
			c.handleNotification(ctx, req)
			return nil
		}
		return mustMarshal(c.HandleRequest(ctx, req))
	}

	// A response from the client to a server-initiated request. This server
	// does not issue client-bound requests, so there is nothing to correlate.
	c.log.DebugContext(ctx, "conn.message.client_response_ignored")
	return nil
}

// HandleRequest dispatches a single request and always produces a response.
func (c *Conn) HandleRequest(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	log := c.log.With(slog.String("method", req.Method))

	resp := c.dispatch(ctx, req)

	if resp.Error != nil {
		log.InfoContext(ctx, "conn.request.fail",
			slog.Int("code", int(resp.Error.Code)),
			slog.String("err", resp.Error.Message),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	} else {
		log.DebugContext(ctx, "conn.request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	}
	return resp
}

func (c *Conn) dispatch(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		return mustResult(req.ID, mcp.EmptyResult{})
	case mcp.InitializeMethod:
		return c.handleInitialize(ctx, req)
	}

	if !c.Initialized() {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "server not initialized",
			map[string]any{"method": req.Method})
	}

	switch mcp.Method(req.Method) {
	case mcp.ToolsListMethod:
		return c.handleToolsList(ctx, req)
	case mcp.ToolsSearchMethod:
		return c.handleToolsSearch(ctx, req)
	case mcp.ToolsCallMethod:
		return c.handleToolsCall(ctx, req)
	case mcp.ResourcesListMethod:
		return c.handleResourcesList(ctx, req)
	case mcp.ResourcesReadMethod:
		return c.handleResourcesRead(ctx, req)
	case mcp.PromptsListMethod:
		return c.handlePromptsList(ctx, req)
	case mcp.PromptsGetMethod:
		return c.handlePromptsGet(ctx, req)
	case mcp.LoggingSetLevelMethod:
		return c.handleSetLevel(ctx, req)
	case mcp.TasksGetMethod:
		return c.handleTasksGet(ctx, req)
	case mcp.TasksListMethod:
		return c.handleTasksList(ctx, req)
	case mcp.TasksCancelMethod:
		return c.handleTasksCancel(ctx, req)
	}

	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound,
		fmt.Sprintf("method not found: %s", req.Method), nil)
}

func (c *Conn) handleNotification(ctx context.Context, req *jsonrpc.Request) {
	switch mcp.Method(req.Method) {
	case mcp.InitializedNotificationMethod:
		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()
		c.log.InfoContext(ctx, "conn.ready")
	case mcp.CancelledNotificationMethod:
		var params mcp.CancelledNotification
		if err := json.Unmarshal(req.Params, &params); err != nil || params.RequestID == nil {
			c.log.InfoContext(ctx, "conn.cancel.invalid")
			return
		}
		c.cancelRequest(ctx, requestIDKey(params.RequestID), params.Reason)
	default:
		// Unknown notifications are dropped; notifications never get replies.
		c.log.DebugContext(ctx, "conn.notification.ignored", slog.String("method", req.Method))
	}
}

// cancelRequest cancels whatever is tracked under id: an in-flight handler
// invocation, a tracked task, or nothing at all. It is idempotent.
func (c *Conn) cancelRequest(ctx context.Context, id, reason string) {
	c.inflightMu.Lock()
	cancel := c.inflight[id]
	c.inflightMu.Unlock()
	if cancel != nil {
		cancel(context.Canceled)
		c.log.InfoContext(ctx, "conn.cancel.inflight", slog.String("request_id", id))
		return
	}
	if _, err := c.srv.taskMgr.Cancel(ctx, id, reason); err == nil {
		return
	} else if !errors.Is(err, tasks.ErrTaskNotFound) {
		c.log.WarnContext(ctx, "conn.cancel.task_fail", slog.String("request_id", id), slog.String("err", err.Error()))
		return
	}
	c.log.DebugContext(ctx, "conn.cancel.unknown", slog.String("request_id", id))
}

func (c *Conn) handleInitialize(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
	}

	// Supported versions are echoed back; anything else negotiates down to
	// the server's preferred version rather than failing the handshake.
	negotiated := params.ProtocolVersion
	if !mcp.IsSupportedProtocolVersion(negotiated) {
		negotiated = mcp.LatestProtocolVersion
	}

	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "connection already initialized", nil)
	}
	c.initialized = true
	c.protocolVersion = negotiated
	c.clientInfo = params.ClientInfo
	c.mu.Unlock()

	c.log.InfoContext(ctx, "conn.initialize",
		slog.String("client", params.ClientInfo.Name),
		slog.String("requested_version", params.ProtocolVersion),
		slog.String("negotiated_version", negotiated))

	return mustResult(req.ID, mcp.InitializeResult{
		ProtocolVersion: negotiated,
		Capabilities:    c.srv.capabilities(),
		ServerInfo:      c.srv.serverInfo(),
		Instructions:    c.srv.instructions,
	})
}

func (c *Conn) handleToolsList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
		}
	}
	tools, next, err := c.srv.tools.List(ctx, cursorArg(params.Cursor), params.PageSize)
	if err != nil {
		return cursorErrorResponse(req.ID, params.Cursor, err)
	}
	if tools == nil {
		tools = []mcp.Tool{}
	}
	return mustResult(req.ID, mcp.ListToolsResult{
		Tools:           tools,
		PaginatedResult: mcp.PaginatedResult{NextCursor: next},
	})
}

func (c *Conn) handleToolsSearch(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.SearchToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
		}
	}
	q := registry.SearchQuery{
		Query:    params.Query,
		Category: params.Category,
		Tags:     params.Tags,
		ReadOnly: params.ReadOnly,
	}
	tools, total, next, err := c.srv.tools.Search(ctx, q, cursorArg(params.Cursor), params.PageSize)
	if err != nil {
		return cursorErrorResponse(req.ID, params.Cursor, err)
	}
	if tools == nil {
		tools = []mcp.Tool{}
	}
	return mustResult(req.ID, mcp.SearchToolsResult{
		Tools:           tools,
		Total:           total,
		PaginatedResult: mcp.PaginatedResult{NextCursor: next},
	})
}

func (c *Conn) handleToolsCall(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
	}
	if params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "missing tool name", nil)
	}

	def, ok := c.srv.tools.Get(params.Name)
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
			fmt.Sprintf("unknown tool: %s", params.Name),
			map[string]any{"name": params.Name})
	}

	var args map[string]any
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "arguments must be an object", nil)
		}
	}

	toolCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)

	reqID := req.ID.String()
	c.inflightMu.Lock()
	c.inflight[reqID] = cancel
	c.inflightMu.Unlock()
	defer func() {
		c.inflightMu.Lock()
		delete(c.inflight, reqID)
		c.inflightMu.Unlock()
	}()

	result, err := def.Handler(toolCtx, args)
	if err != nil {
		// Only an actual cancellation of this call counts; a handler that
		// returns a context error of its own making is an ordinary failure.
		if toolCtx.Err() != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "cancelled", nil)
		}
		// Tool failures are data, not protocol failures.
		return mustResult(req.ID, mcp.CallToolResult{
			Content: []mcp.ContentBlock{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
	}
	return mustResult(req.ID, normalizeToolResult(result))
}

func (c *Conn) handleResourcesList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ListResourcesRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
		}
	}
	resources, next, err := c.srv.resources.List(ctx, cursorArg(params.Cursor), params.PageSize)
	if err != nil {
		return cursorErrorResponse(req.ID, params.Cursor, err)
	}
	if resources == nil {
		resources = []mcp.Resource{}
	}
	return mustResult(req.ID, mcp.ListResourcesResult{
		Resources:       resources,
		PaginatedResult: mcp.PaginatedResult{NextCursor: next},
	})
}

func (c *Conn) handleResourcesRead(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params: uri required", nil)
	}
	contents, err := c.srv.resources.Read(ctx, params.URI)
	if err != nil {
		if errors.Is(err, registry.ErrResourceNotFound) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
				fmt.Sprintf("unknown resource: %s", params.URI),
				map[string]any{"uri": params.URI})
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "resource read failed", nil)
	}
	return mustResult(req.ID, mcp.ReadResourceResult{Contents: contents})
}

func (c *Conn) handlePromptsList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ListPromptsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
		}
	}
	prompts, next, err := c.srv.prompts.List(ctx, cursorArg(params.Cursor), params.PageSize)
	if err != nil {
		return cursorErrorResponse(req.ID, params.Cursor, err)
	}
	if prompts == nil {
		prompts = []mcp.Prompt{}
	}
	return mustResult(req.ID, mcp.ListPromptsResult{
		Prompts:         prompts,
		PaginatedResult: mcp.PaginatedResult{NextCursor: next},
	})
}

func (c *Conn) handlePromptsGet(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.GetPromptRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params: name required", nil)
	}
	result, err := c.srv.prompts.Render(ctx, params.Name, params.Arguments)
	if err != nil {
		if errors.Is(err, registry.ErrPromptNotFound) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
				fmt.Sprintf("unknown prompt: %s", params.Name),
				map[string]any{"name": params.Name})
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "prompt render failed", nil)
	}
	return mustResult(req.ID, result)
}

func (c *Conn) handleSetLevel(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.SetLevelRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
	}
	level := params.Level
	if !mcp.IsValidLoggingLevel(level) {
		level = mcp.LoggingLevelInfo
	}
	c.srv.logLevel.Set(slogLevel(level))
	c.log.InfoContext(ctx, "conn.log_level.set", slog.String("level", string(level)))
	return mustResult(req.ID, mcp.EmptyResult{})
}

func (c *Conn) handleTasksGet(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.GetTaskRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.TaskID == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params: taskId required", nil)
	}
	t, err := c.srv.taskMgr.Get(ctx, params.TaskID)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
				fmt.Sprintf("unknown task: %s", params.TaskID),
				map[string]any{"taskId": params.TaskID})
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "task lookup failed", nil)
	}
	return mustResult(req.ID, t)
}

func (c *Conn) handleTasksList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ListTasksRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
		}
	}
	all, err := c.srv.taskMgr.List(ctx)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "task listing failed", nil)
	}
	page, next, err := registry.PageSlice(all, cursorArg(params.Cursor), params.PageSize)
	if err != nil {
		return cursorErrorResponse(req.ID, params.Cursor, err)
	}
	if page == nil {
		page = []mcp.TaskInfo{}
	}
	return mustResult(req.ID, mcp.ListTasksResult{
		Tasks:           page,
		PaginatedResult: mcp.PaginatedResult{NextCursor: next},
	})
}

func (c *Conn) handleTasksCancel(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.CancelTaskRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.TaskID == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params: taskId required", nil)
	}
	t, err := c.srv.taskMgr.Cancel(ctx, params.TaskID, params.Reason)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
				fmt.Sprintf("unknown task: %s", params.TaskID),
				map[string]any{"taskId": params.TaskID})
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "task cancel failed", nil)
	}
	return mustResult(req.ID, t)
}

// WatchListChanged relays registry change events to the client as
// list_changed notifications until ctx ends. Transports with a push channel
// run this on its own goroutine after installing a Notifier.
func (c *Conn) WatchListChanged(ctx context.Context) {
	toolCh := c.srv.tools.Subscribe()
	resCh := c.srv.resources.Subscribe()
	promptCh := c.srv.prompts.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-toolCh:
			c.sendNotification(ctx, mcp.ToolsListChangedNotificationMethod)
		case <-resCh:
			c.sendNotification(ctx, mcp.ResourcesListChangedNotificationMethod)
		case <-promptCh:
			c.sendNotification(ctx, mcp.PromptsListChangedNotificationMethod)
		}
	}
}

func (c *Conn) sendNotification(ctx context.Context, method mcp.Method) {
	// No server-initiated traffic before the client declares itself ready.
	if !c.Ready() {
		return
	}
	c.notifyMu.Lock()
	notify := c.notify
	c.notifyMu.Unlock()
	if notify == nil {
		return
	}
	note, err := jsonrpc.NewNotification(string(method), nil)
	if err != nil {
		return
	}
	b, err := json.Marshal(note)
	if err != nil {
		return
	}
	notify(ctx, b)
	c.log.DebugContext(ctx, "conn.notify", slog.String("method", string(method)))
}

// normalizeToolResult wraps whatever a handler returned into the wire shape.
// Strings become a single text block, structured values become their JSON
// encoding in a text block, anything else is stringified.
func normalizeToolResult(v any) mcp.CallToolResult {
	switch r := v.(type) {
	case mcp.CallToolResult:
		return r
	case *mcp.CallToolResult:
		if r != nil {
			return *r
		}
		return mcp.CallToolResult{Content: []mcp.ContentBlock{}}
	case []mcp.ContentBlock:
		return mcp.CallToolResult{Content: r}
	case mcp.ContentBlock:
		return mcp.CallToolResult{Content: []mcp.ContentBlock{r}}
	case nil:
		return mcp.CallToolResult{Content: []mcp.ContentBlock{}}
	case string:
		return mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: r}}}
	}

	if isStructured(v) {
		if b, err := json.Marshal(v); err == nil {
			return mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: string(b)}}}
		}
	}
	return mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf("%v", v)}}}
}

// isStructured reports whether v is a map, slice, array or struct (directly
// or behind pointers), i.e. something whose canonical text form is JSON.
func isStructured(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	default:
		return false
	}
}

// requestIDKey renders a wire request id the same way jsonrpc.RequestID does,
// so cancellation lookups match the in-flight table regardless of whether the
// client sent a string or a number.
func requestIDKey(id any) string {
	if f, ok := id.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", id)
}

// cursorArg converts the wire cursor (empty string means absent) into the
// registry's optional-cursor form.
func cursorArg(cursor string) *string {
	if cursor == "" {
		return nil
	}
	return &cursor
}

// cursorErrorResponse maps a registry listing error to the right envelope,
// attaching the offending cursor for invalid-cursor failures.
func cursorErrorResponse(id *jsonrpc.RequestID, cursor string, err error) *jsonrpc.Response {
	if errors.Is(err, registry.ErrInvalidCursor) {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, "invalid cursor",
			map[string]any{"cursor": cursor})
	}
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "listing failed", nil)
}

func mustResult(id *jsonrpc.RequestID, result any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "result encoding failed", nil)
	}
	return resp
}

func mustMarshal(resp *jsonrpc.Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		// A response we just built always marshals; this path is unreachable
		// short of memory corruption.
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return b
}
