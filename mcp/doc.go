// Package mcp contains protocol data types and constants shared across
// transports and the protocol server. It mirrors the wire representation of
// the Model Context Protocol while keeping the surface Go-friendly (exported
// structs with json tags, string constants for method names and enumerations,
// helper validation functions).
//
// The package is intentionally free of transport logic: the streaming HTTP
// and stdio transports import these types but implement their own framing,
// authentication and session handling. Likewise the server package constructs
// responses using these concrete types and hands them to internal/jsonrpc for
// envelope serialization.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod). Using the constants avoids typographical mistakes
// and gives dispatch code a closed set to match over.
//
// # Protocol Versions
//
// The server negotiates one of SupportedProtocolVersions during initialize.
// A requested version outside that set falls back to LatestProtocolVersion
// rather than failing the handshake.
package mcp
