package jsonrpc

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAnyMessageClassification(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		wantReq bool
		wantRes bool
		wantErr bool
	}{
		{name: "request", input: `{"jsonrpc":"2.0","id":1,"method":"ping"}`, wantReq: true},
		{name: "notification", input: `{"jsonrpc":"2.0","method":"notifications/initialized"}`, wantReq: true},
		{name: "result response", input: `{"jsonrpc":"2.0","id":1,"result":{}}`, wantRes: true},
		{name: "error response", input: `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`, wantRes: true},
		{name: "wrong version", input: `{"jsonrpc":"1.0","id":1,"method":"ping"}`, wantErr: true},
		{name: "request with result", input: `{"jsonrpc":"2.0","id":1,"method":"ping","result":{}}`, wantErr: true},
		{name: "empty object", input: `{"jsonrpc":"2.0"}`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m AnyMessage
			err := json.Unmarshal([]byte(tc.input), &m)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got message %+v", m)
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := m.AsRequest() != nil; got != tc.wantReq {
				t.Errorf("AsRequest presence = %v, want %v", got, tc.wantReq)
			}
			if got := m.AsResponse() != nil; got != tc.wantRes {
				t.Errorf("AsResponse presence = %v, want %v", got, tc.wantRes)
			}
		})
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	cases := []struct {
		input string
		str   string
	}{
		{input: `1`, str: "1"},
		{input: `"abc"`, str: "abc"},
		{input: `2.5`, str: "2.5"},
	}
	for _, tc := range cases {
		var id RequestID
		if err := json.Unmarshal([]byte(tc.input), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.input, err)
		}
		if id.String() != tc.str {
			t.Errorf("String() = %q, want %q", id.String(), tc.str)
		}
		b, err := json.Marshal(&id)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(b) != tc.input {
			t.Errorf("marshal round-trip = %s, want %s", b, tc.input)
		}
	}

	var id RequestID
	if err := json.Unmarshal([]byte(`{"bad":true}`), &id); err == nil {
		t.Fatal("expected error for object id")
	}
}

func TestParseErrorResponseHasNullID(t *testing.T) {
	res := NewParseErrorResponse(nil)
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"id":null`) {
		t.Fatalf("parse error response missing null id: %s", b)
	}
	if !strings.Contains(string(b), `-32700`) {
		t.Fatalf("parse error response missing code: %s", b)
	}
}

func TestNotificationDetection(t *testing.T) {
	n, err := NewNotification("notifications/progress", map[string]any{"progress": 1})
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	if !n.IsNotification() {
		t.Fatal("expected notification")
	}
	req := &Request{JSONRPCVersion: Version, Method: "ping", ID: NewRequestID(7)}
	if req.IsNotification() {
		t.Fatal("request with id misclassified as notification")
	}
}
