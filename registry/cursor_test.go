package registry

import (
	"errors"
	"testing"
)

func TestCursorRoundTrip(t *testing.T) {
	var codec CursorCodec
	cases := []Cursor{
		{Offset: 0},
		{Offset: 42},
		{Offset: 7, Snapshot: "q-fingerprint"},
	}
	for _, want := range cases {
		tok := codec.Encode(want)
		got, err := codec.Decode(tok)
		if err != nil {
			t.Fatalf("decode %q: %v", tok, err)
		}
		if got != want {
			t.Errorf("round-trip = %+v, want %+v", got, want)
		}
	}
}

func TestCursorDecodeGarbage(t *testing.T) {
	var codec CursorCodec
	for _, tok := range []string{"not base64!!", "aGVsbG8", ""} {
		if _, err := codec.Decode(tok); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("Decode(%q) err = %v, want ErrInvalidCursor", tok, err)
		}
	}
}

func TestPageOffsetBounds(t *testing.T) {
	var codec CursorCodec
	items := []int{1, 2, 3}

	for _, offset := range []int{-1, 3, 100} {
		tok := codec.Encode(Cursor{Offset: offset})
		if _, _, err := page(codec, items, &tok, 2, ""); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("offset %d: err = %v, want ErrInvalidCursor", offset, err)
		}
	}

	tok := codec.Encode(Cursor{Offset: 2})
	got, next, err := page(codec, items, &tok, 2, "")
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(got) != 1 || got[0] != 3 {
		t.Errorf("page = %v, want [3]", got)
	}
	if next != "" {
		t.Errorf("next = %q, want empty", next)
	}
}

func TestPageSnapshotMismatch(t *testing.T) {
	var codec CursorCodec
	items := []int{1, 2, 3}
	tok := codec.Encode(Cursor{Offset: 1, Snapshot: "query-a"})
	if _, _, err := page(codec, items, &tok, 2, "query-b"); !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("snapshot mismatch err = %v, want ErrInvalidCursor", err)
	}
}
