// Package server implements the MCP protocol core: the initialize handshake
// state machine, method dispatch over the closed method set, capability
// advertisement, per-request cancellation bookkeeping and result
// normalization. Transports (stdio, streaminghttp) feed it raw JSON-RPC
// messages and relay whatever it returns.
package server
