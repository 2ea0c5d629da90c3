package auth

import (
	"errors"
	"testing"
)

func TestAudIntersects(t *testing.T) {
	cases := []struct {
		name  string
		aud   any
		wants []string
		want  bool
	}{
		{"string match", "api://host", []string{"api://host"}, true},
		{"string miss", "api://other", []string{"api://host"}, false},
		{"array match", []any{"a", "api://host"}, []string{"api://host"}, true},
		{"array miss", []any{"a", "b"}, []string{"api://host"}, false},
		{"absent claim", nil, []string{"api://host"}, false},
		{"string slice", []string{"api://host"}, []string{"api://host"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := audIntersects(tc.aud, tc.wants); got != tc.want {
				t.Fatalf("audIntersects(%v, %v) = %v, want %v", tc.aud, tc.wants, got, tc.want)
			}
		})
	}
}

func TestCheckScopes(t *testing.T) {
	cases := []struct {
		name     string
		claim    any
		required []string
		anyMode  bool
		wantErr  bool
	}{
		{"no policy", nil, nil, false, false},
		{"all present", "read write admin", []string{"read", "write"}, false, false},
		{"one missing", "read", []string{"read", "write"}, false, true},
		{"any mode one present", "write", []string{"read", "write"}, true, false},
		{"any mode none present", "other", []string{"read", "write"}, true, true},
		{"empty claim with policy", "", []string{"read"}, false, true},
		{"non-string claim", 42, []string{"read"}, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := checkScopes(tc.claim, tc.required, tc.anyMode)
			if tc.wantErr {
				if !errors.Is(err, ErrInsufficientScope) {
					t.Fatalf("err = %v, want ErrInsufficientScope", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
		})
	}
}
