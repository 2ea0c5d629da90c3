package mcp

import "encoding/json"

// Method is an MCP method identifier used in JSON-RPC messages.
type Method string

// MCP method names and notifications.
const (
	// Initialization
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"

	// Tools
	ToolsListMethod                    Method = "tools/list"
	ToolsSearchMethod                  Method = "tools/search"
	ToolsCallMethod                    Method = "tools/call"
	ToolsListChangedNotificationMethod Method = "notifications/tools/list_changed"

	// Resources
	ResourcesListMethod                    Method = "resources/list"
	ResourcesReadMethod                    Method = "resources/read"
	ResourcesListChangedNotificationMethod Method = "notifications/resources/list_changed"

	// Prompts
	PromptsListMethod                    Method = "prompts/list"
	PromptsGetMethod                     Method = "prompts/get"
	PromptsListChangedNotificationMethod Method = "notifications/prompts/list_changed"

	// Logging
	LoggingSetLevelMethod            Method = "logging/setLevel"
	LoggingMessageNotificationMethod Method = "notifications/message"

	// Tasks (server extension)
	TasksGetMethod    Method = "tasks/get"
	TasksListMethod   Method = "tasks/list"
	TasksCancelMethod Method = "tasks/cancel"

	// General
	PingMethod                  Method = "ping"
	CancelledNotificationMethod Method = "notifications/cancelled"
	ProgressNotificationMethod  Method = "notifications/progress"
)

// PaginatedRequest carries a cursor for paginated list requests. PageSize is
// a server extension; zero means the server default, oversized values are
// clamped.
type PaginatedRequest struct {
	Cursor   string `json:"cursor,omitzero"`
	PageSize int    `json:"pageSize,omitzero"`
}

// PaginatedResult carries a cursor for continuing pagination.
type PaginatedResult struct {
	NextCursor string `json:"nextCursor,omitzero"`
}

// BaseMetadata carries optional metadata for responses.
type BaseMetadata struct {
	Meta map[string]any `json:"_meta,omitempty"`
}

// CancelledNotification informs the peer that a request was canceled. The
// request id is string-or-number on the wire, like any JSON-RPC id.
type CancelledNotification struct {
	RequestID any    `json:"requestId"`
	Reason    string `json:"reason,omitzero"`
}

// ProgressNotificationParams conveys progress of a long-running operation.
type ProgressNotificationParams struct {
	ProgressToken string  `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitzero"`
	Message       string  `json:"message,omitzero"`
}

// PingRequest is a no-op request used to test connectivity.
type PingRequest struct{}

// InitializeRequest starts the MCP initialization handshake.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

// InitializeResult returns negotiated capabilities and server info.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitzero"`
	BaseMetadata
}

// InitializedNotification signals that initialization completed.
type InitializedNotification struct{}

// Tools
// ListToolsRequest requests the set of available tools.
type ListToolsRequest struct {
	PaginatedRequest
}

// ListToolsResult returns the available tools.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
	PaginatedResult
	BaseMetadata
}

// SearchToolsRequest filters the tool listing. All supplied filters are
// combined with AND; an empty request matches every tool.
type SearchToolsRequest struct {
	Query    string   `json:"query,omitzero"`
	Category string   `json:"category,omitzero"`
	Tags     []string `json:"tags,omitempty"`
	ReadOnly *bool    `json:"readOnly,omitempty"`
	PaginatedRequest
}

// SearchToolsResult returns matching tools plus the pre-pagination total so
// clients can size remaining pages without walking every cursor.
type SearchToolsResult struct {
	Tools []Tool `json:"tools"`
	Total int    `json:"total"`
	PaginatedResult
	BaseMetadata
}

// CallToolRequestReceived is the server-received representation for a tool call.
type CallToolRequestReceived struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult represents a tool invocation result.
type CallToolResult struct {
	Content []ContentBlock `json:"content,omitempty"`
	IsError bool           `json:"isError"`
	BaseMetadata
}

// ToolListChangedNotification indicates the set of tools changed.
type ToolListChangedNotification struct{}

// Resources
// ListResourcesRequest requests a paginated list of resources.
type ListResourcesRequest struct {
	PaginatedRequest
}

// ListResourcesResult returns a page of resources.
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
	PaginatedResult
	BaseMetadata
}

// ReadResourceRequest requests the contents of a resource by URI.
type ReadResourceRequest struct {
	URI string `json:"uri"`
}

// ReadResourceResult returns resource contents.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
	BaseMetadata
}

// ResourceListChangedNotification indicates the set of resources changed.
type ResourceListChangedNotification struct{}

// Prompts
// ListPromptsRequest requests available prompts.
type ListPromptsRequest struct {
	PaginatedRequest
}

// ListPromptsResult returns available prompts.
type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
	PaginatedResult
	BaseMetadata
}

// GetPromptRequestReceived is the server-received representation for prompt retrieval.
type GetPromptRequestReceived struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// GetPromptResult returns a prompt definition and messages.
type GetPromptResult struct {
	Description string          `json:"description,omitzero"`
	Messages    []PromptMessage `json:"messages"`
	BaseMetadata
}

// PromptListChangedNotification indicates the set of prompts changed.
type PromptListChangedNotification struct{}

// Logging
// SetLevelRequest sets the server logging level.
type SetLevelRequest struct {
	Level LoggingLevel `json:"level"`
}

// LoggingMessageNotification conveys a structured log message.
type LoggingMessageNotification struct {
	Level  LoggingLevel `json:"level"`
	Data   any          `json:"data"`
	Logger string       `json:"logger,omitzero"`
}

// Tasks (server extension)
// GetTaskRequest requests a single task record by id.
type GetTaskRequest struct {
	TaskID string `json:"taskId"`
}

// ListTasksRequest requests a paginated list of tracked tasks.
type ListTasksRequest struct {
	PaginatedRequest
}

// ListTasksResult returns a page of tracked tasks.
type ListTasksResult struct {
	Tasks []TaskInfo `json:"tasks"`
	PaginatedResult
	BaseMetadata
}

// CancelTaskRequest asks the server to cancel a tracked task.
type CancelTaskRequest struct {
	TaskID string `json:"taskId"`
	Reason string `json:"reason,omitzero"`
}

// Empty result for operations that don't return data.
// EmptyResult is returned for operations that do not return data.
type EmptyResult struct {
	BaseMetadata
}
