package registry

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
)

// DirResources registers one readable resource per regular file under root
// and keeps the registry in sync with the directory while ctx is alive.
// URIs take the form "<baseURI>/<relative path>" (default base "file://").
//
// The initial scan is synchronous; the fsnotify watcher runs in the
// background and re-syncs on create/remove/rename/write so clients observing
// list_changed notifications see an up-to-date listing.
type DirResources struct {
	reg     *Resources
	root    string
	baseURI string
	log     *slog.Logger
}

// DirOption configures DirResources.
type DirOption func(*DirResources)

// WithBaseURI overrides the URI prefix resources are published under.
func WithBaseURI(base string) DirOption {
	return func(d *DirResources) { d.baseURI = strings.TrimSuffix(base, "/") }
}

// WithDirLogger overrides the logger used for watcher diagnostics.
func WithDirLogger(l *slog.Logger) DirOption {
	return func(d *DirResources) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDirResources scans root into reg and starts a background watcher bound
// to ctx. It fails only when the initial scan cannot read root; watcher
// startup problems degrade to a static listing with a logged warning.
func NewDirResources(ctx context.Context, reg *Resources, root string, opts ...DirOption) (*DirResources, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	d := &DirResources{reg: reg, root: abs, baseURI: "file://", log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.sync(ctx); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		d.log.WarnContext(ctx, "dirresources.watch.unavailable", slog.String("err", err.Error()))
		return d, nil
	}
	if err := w.Add(abs); err != nil {
		d.log.WarnContext(ctx, "dirresources.watch.add_fail", slog.String("err", err.Error()))
		_ = w.Close()
		return d, nil
	}
	go d.watch(ctx, w)
	return d, nil
}

func (d *DirResources) uriFor(rel string) string {
	return d.baseURI + "/" + filepath.ToSlash(rel)
}

// sync walks root and registers a resource per regular file. Removed files
// are not unregistered; listings reflect the union of paths seen, and reads
// of a removed file fail with the handler's os error.
func (d *DirResources) sync(ctx context.Context) error {
	return filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		d.register(rel, path)
		return nil
	})
}

func (d *DirResources) register(rel, path string) {
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	opts := []ResourceOption{WithResourceName(filepath.Base(path))}
	if mimeType != "" {
		opts = append(opts, WithMimeType(mimeType))
	}
	d.reg.Register(d.uriFor(rel), func(ctx context.Context) (any, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if utf8.Valid(b) {
			return string(b), nil
		}
		return b, nil
	}, opts...)
}

func (d *DirResources) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := d.sync(ctx); err != nil {
				d.log.WarnContext(ctx, "dirresources.sync.fail", slog.String("err", err.Error()))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			d.log.DebugContext(ctx, "dirresources.watch.err", slog.String("err", err.Error()))
		}
	}
}
