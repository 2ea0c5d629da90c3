package registry

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResourceReadNormalization(t *testing.T) {
	ctx := context.Background()
	reg := NewResources()
	reg.Register("doc://readme", func(ctx context.Context) (any, error) {
		return "hello", nil
	}, WithMimeType("text/markdown"))
	reg.Register("doc://logo", func(ctx context.Context) (any, error) {
		return []byte{0x89, 0x50}, nil
	}, WithMimeType("image/png"))
	reg.Register("doc://config", func(ctx context.Context) (any, error) {
		return map[string]any{"debug": true}, nil
	})

	contents, err := reg.Read(ctx, "doc://readme")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if contents[0].Text != "hello" || contents[0].MimeType != "text/markdown" {
		t.Errorf("text read = %+v", contents[0])
	}

	contents, err = reg.Read(ctx, "doc://logo")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if contents[0].Blob != base64.StdEncoding.EncodeToString([]byte{0x89, 0x50}) {
		t.Errorf("blob read = %+v", contents[0])
	}

	contents, err = reg.Read(ctx, "doc://config")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.Contains(contents[0].Text, `"debug":true`) || contents[0].MimeType != "application/json" {
		t.Errorf("structured read = %+v", contents[0])
	}

	if _, err := reg.Read(ctx, "doc://missing"); err == nil {
		t.Error("Read of unknown URI succeeded")
	}
}

func TestDirResourcesInitialScan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("text here"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "data.bin"), []byte{0x00, 0xff}, 0o644); err != nil {
		t.Fatal(err)
	}

	reg := NewResources()
	if _, err := NewDirResources(ctx, reg, dir, WithBaseURI("ws://docs")); err != nil {
		t.Fatalf("NewDirResources: %v", err)
	}

	if reg.Len() != 2 {
		t.Fatalf("registered %d resources, want 2", reg.Len())
	}

	contents, err := reg.Read(ctx, "ws://docs/notes.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if contents[0].Text != "text here" {
		t.Errorf("notes.txt = %+v", contents[0])
	}

	contents, err = reg.Read(ctx, "ws://docs/data.bin")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if contents[0].Blob == "" {
		t.Errorf("binary file served without blob: %+v", contents[0])
	}
}
