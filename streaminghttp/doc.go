// Package streaminghttp implements the multi-client MCP transport over HTTP:
// a single endpoint accepting POST/GET/DELETE/OPTIONS, a live session table
// with sliding TTL, Server-Sent-Events streaming with Last-Event-ID
// resumption, and pre-dispatch validation of origin, protocol version header
// and optional bearer credentials.
//
// Transport-level rejections use plain HTTP status codes (403/400/401/404)
// and never produce JSON-RPC envelopes; once a message reaches the dispatcher
// all failures flow back as JSON-RPC responses.
package streaminghttp
