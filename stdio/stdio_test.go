package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hostbridge/mcp-host-go/mcp"
	"github.com/hostbridge/mcp-host-go/server"
)

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// serveLines runs the handler over in-memory pipes, writes each input line,
// and returns one decoded response per expected reply.
func serveLines(t *testing.T, srv *server.Server, lines []string, wantResponses int) []wireResponse {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	h := NewHandler(srv, WithIO(inR, outW), WithLogger(slog.New(slog.DiscardHandler)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan error, 1)
	go func() { served <- h.Serve(ctx) }()

	go func() {
		for _, line := range lines {
			io.WriteString(inW, line+"\n")
		}
		inW.Close()
	}()

	var out []wireResponse
	scanner := bufio.NewScanner(outR)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(out) < wantResponses && scanner.Scan() {
			var resp wireResponse
			if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
				t.Errorf("protocol stream carried a non-JSON line: %q", scanner.Text())
				return
			}
			out = append(out, resp)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for responses")
	}

	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve never returned after EOF")
	}
	outW.Close()
	return out
}

func TestServeHandshakeAndCall(t *testing.T) {
	srv := server.New("stdio-test", "0.0.0")
	srv.Tools().Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		text, _ := args["text"].(string)
		return text, nil
	})

	responses := serveLines(t, srv, []string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"t"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`,
	}, 2)

	var init mcp.InitializeResult
	if err := json.Unmarshal(responses[0].Result, &init); err != nil {
		t.Fatalf("initialize result: %v", err)
	}
	if init.ProtocolVersion != "2025-06-18" {
		t.Fatalf("negotiated = %q", init.ProtocolVersion)
	}

	var call mcp.CallToolResult
	if err := json.Unmarshal(responses[1].Result, &call); err != nil {
		t.Fatalf("call result: %v", err)
	}
	if call.IsError || call.Content[0].Text != "hi" {
		t.Fatalf("call = %+v", call)
	}
}

func TestServeBadLineDoesNotKillSession(t *testing.T) {
	srv := server.New("stdio-test", "0.0.0")

	responses := serveLines(t, srv, []string{
		`this is not json`,
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
	}, 2)

	if responses[0].Error == nil || responses[0].Error.Code != -32700 {
		t.Fatalf("first response = %+v, want parse error", responses[0])
	}
	if responses[0].ID != nil {
		t.Fatalf("parse error id = %v, want null", responses[0].ID)
	}
	if responses[1].Error != nil {
		t.Fatalf("session died after bad line: %+v", responses[1].Error)
	}
}

func TestServeNotificationsProduceNoOutput(t *testing.T) {
	srv := server.New("stdio-test", "0.0.0")

	responses := serveLines(t, srv, []string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
	}, 1)

	if responses[0].Error != nil {
		t.Fatalf("response = %+v", responses[0])
	}
	if responses[0].ID != float64(1) {
		t.Fatalf("only output line should answer the ping, got id %v", responses[0].ID)
	}
}
