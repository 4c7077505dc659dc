// Package watcher keeps the profile store in step with self-introduction files dropped
// into inbox directories. New or changed files are ingested after a debounce; removed
// files have their profiles deleted.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/nakama/internal/ingest"
)

const defaultDebounce = 400 * time.Millisecond

// Ingester is the part of the ingestion pipeline the watcher drives.
type Ingester interface {
	Accepts(name string) bool
	IngestFile(ctx context.Context, path string) (*ingest.Result, error)
	RemoveFile(ctx context.Context, path string) (int64, error)
}

// Inbox watches root directories and forwards file changes to an Ingester.
type Inbox struct {
	roots      []string
	extensions []string
	recursive  bool
	debounce   time.Duration
	ingester   Ingester
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	running sync.WaitGroup
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(w *Inbox) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithExtensions limits the watched files to these extensions. Empty accepts all.
func WithExtensions(exts []string) Option {
	return func(w *Inbox) { w.extensions = exts }
}

// WithRecursive watches subdirectories of each root.
func WithRecursive(recursive bool) Option {
	return func(w *Inbox) { w.recursive = recursive }
}

// WithDebounce sets how long a file must be quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Inbox) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewInbox creates a watcher over roots. Roots that do not exist are created on Run.
func NewInbox(roots []string, ingester Ingester, opts ...Option) *Inbox {
	w := &Inbox{
		recursive: true,
		debounce:  defaultDebounce,
		ingester:  ingester,
		logger:    zap.NewNop(),
		pending:   make(map[string]*time.Timer),
	}
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			r = abs
		}
		w.roots = append(w.roots, filepath.Clean(r))
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Roots returns the watched root directories.
func (w *Inbox) Roots() []string {
	return append([]string(nil), w.roots...)
}

// Run watches the roots until ctx is cancelled. Files already present are ingested
// once the watches are in place. Run waits for in-flight ingestions before returning.
func (w *Inbox) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, root := range w.roots {
		if err := w.addRoot(fw, root); err != nil {
			return err
		}
	}
	w.logger.Info("watching inbox",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))

	w.Sync(ctx)

	defer w.drain()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// Sync ingests every matching file under the roots and returns how many were ingested.
func (w *Inbox) Sync(ctx context.Context) int {
	n := 0
	for _, root := range w.roots {
		n += w.syncDirectory(ctx, root)
	}
	return n
}

func (w *Inbox) handleEvent(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.handleNewDirectory(ctx, fw, path)
			}
			return
		}
		if w.wants(path) {
			w.schedule(ctx, path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if w.wants(path) {
			w.remove(ctx, path)
		}
	}
}

func (w *Inbox) handleNewDirectory(ctx context.Context, fw *fsnotify.Watcher, dir string) {
	if !w.recursive {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fw.Add(path); err != nil {
				w.logger.Warn("failed to watch directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
	w.syncDirectory(ctx, dir)
}

func (w *Inbox) addRoot(fw *fsnotify.Watcher, root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	if !w.recursive {
		return fw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

func (w *Inbox) syncDirectory(ctx context.Context, root string) int {
	n := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return fs.SkipAll
		}
		if d.IsDir() {
			if path != root && !w.recursive {
				return fs.SkipDir
			}
			return nil
		}
		if w.wants(path) && w.ingestFile(ctx, path) {
			n++
		}
		return nil
	})
	return n
}

// wants reports whether path has a watched extension and a target name.
func (w *Inbox) wants(path string) bool {
	return matchExtension(path, w.extensions) && w.ingester.Accepts(path)
}

func (w *Inbox) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		w.running.Done()
	}
	w.running.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.running.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.ingestFile(ctx, path)
	})
	w.pending[path] = t
}

func (w *Inbox) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		delete(w.pending, path)
		w.running.Done()
	}
}

// drain stops pending timers and waits for ingestions already started.
func (w *Inbox) drain() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.running.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.running.Wait()
}

func (w *Inbox) ingestFile(ctx context.Context, path string) bool {
	if ctx.Err() != nil {
		return false
	}
	res, err := w.ingester.IngestFile(ctx, path)
	switch {
	case errors.Is(err, ingest.ErrSkipped):
		w.logger.Debug("skipped file", zap.String("path", path))
		return false
	case err != nil:
		w.logger.Warn("failed to ingest file", zap.String("path", path), zap.Error(err))
		return false
	}
	w.logger.Info("ingested file", zap.String("path", path), zap.Int("profiles", len(res.Profiles)))
	return true
}

func (w *Inbox) remove(ctx context.Context, path string) {
	n, err := w.ingester.RemoveFile(ctx, path)
	if err != nil {
		w.logger.Warn("failed to remove profiles", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Debug("file removed", zap.String("path", path), zap.Int64("profiles", n))
}

func (w *Inbox) underRoot(path string) bool {
	for _, root := range w.roots {
		if root == path || inDir(root, path) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}
