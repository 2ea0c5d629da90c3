package registry

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidCursor indicates a pagination cursor that could not be decoded or
// that references an offset outside the current result set. It is distinct
// from a not-found condition so callers can map it to an invalid-params
// protocol error rather than an empty result.
var ErrInvalidCursor = errors.New("invalid pagination cursor")

// Cursor is the decoded form of an opaque pagination token: the offset of the
// next item to serve and an optional snapshot fingerprint binding the cursor
// to the query that produced it.
type Cursor struct {
	Offset   int    `json:"o"`
	Snapshot string `json:"s,omitempty"`
}

// CursorCodec encodes and decodes opaque pagination cursors. The zero value
// is ready to use. Encoding is URL-safe base64 over a compact JSON body; the
// representation is deliberately undocumented to clients, which must treat
// cursors as opaque.
type CursorCodec struct{}

// Encode renders c as an opaque token.
func (CursorCodec) Encode(c Cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode parses an opaque token. Any structural failure maps to
// ErrInvalidCursor; range validation against a concrete result set is the
// caller's job.
func (CursorCodec) Decode(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return c, nil
}
