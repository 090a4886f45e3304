// Package watcher watches inbox directories with fsnotify and ingests spreadsheets
// dropped into them once writes have settled.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/docgate/internal/ingest"
	"github.com/hyperjump/docgate/internal/models"
)

const defaultDebounce = 400 * time.Millisecond

// Ingester consumes one upload. *ingest.Pipeline implements it.
type Ingester interface {
	Ingest(ctx context.Context, u ingest.Upload) (*models.IngestSummary, error)
}

// Target names where inbox files are ingested and who they are recorded as uploaded by.
type Target struct {
	Database   string
	Collection string
	UploadedBy string
}

// Watcher ingests spreadsheets that appear under its root directories.
type Watcher struct {
	roots     []string
	recursive bool
	target    Target
	ingester  Ingester
	debounce  time.Duration
	watcher   *fsnotify.Watcher
	mu        sync.Mutex
	pending   map[string]*time.Timer
	ingested  map[string]time.Time // path -> mod time of the version already ingested
	done      chan struct{}
	started   bool
	stopOnce  sync.Once
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher that hands files under roots to ingester.
func NewWatcher(roots []string, recursive bool, target Target, ingester Ingester, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		roots:     roots,
		recursive: recursive,
		target:    target,
		ingester:  ingester,
		debounce:  defaultDebounce,
		pending:   make(map[string]*time.Timer),
		ingested:  make(map[string]time.Time),
		done:      make(chan struct{}),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start creates missing roots, begins watching and queues spreadsheets already present.
// It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsw
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = fsw.Close()
			w.watcher = nil
			w.mu.Unlock()
			return err
		}
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Info("inbox watching",
		zap.Strings("directories", w.roots),
		zap.Bool("recursive", w.recursive),
		zap.String("database", w.target.Database),
		zap.String("collection", w.target.Collection),
	)
	for _, root := range w.roots {
		w.scan(ctx, root)
	}
	go w.run(ctx, fsw)
	return nil
}

// Stop stops watching, cancels pending files and waits for an ingestion in flight.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		for path, t := range w.pending {
			t.Stop()
			delete(w.pending, path)
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		w.mu.Unlock()
		w.wg.Wait()
	})
}

// Directories returns a copy of the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("inbox watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	path := ev.Name
	w.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			if ev.Op.Has(fsnotify.Create) && w.recursive {
				w.addDirectory(path)
				w.scan(ctx, path)
			}
			return
		}
		if isSpreadsheet(path) {
			w.schedule(ctx, path)
		}
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.mu.Lock()
		if t, ok := w.pending[path]; ok {
			t.Stop()
			delete(w.pending, path)
		}
		delete(w.ingested, path)
		w.mu.Unlock()
	}
}

// isSpreadsheet reports whether path is an xlsx file other than an Office lock file.
func isSpreadsheet(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ingest.Extension)
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		select {
		case <-w.done:
			w.mu.Unlock()
			return
		default:
		}
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()
		w.ingestFile(ctx, path)
	})
}

// ingestFile ingests path unless the same version was already ingested.
func (w *Watcher) ingestFile(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		w.logger.Debug("inbox file vanished", zap.String("path", path), zap.Error(err))
		return
	}
	w.mu.Lock()
	last, seen := w.ingested[path]
	w.mu.Unlock()
	if seen && last.Equal(info.ModTime()) {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		w.logger.Warn("inbox open failed", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()

	sum, err := w.ingester.Ingest(ctx, ingest.Upload{
		Database:   w.target.Database,
		Collection: w.target.Collection,
		Filename:   filepath.Base(path),
		UploadedBy: w.target.UploadedBy,
		Body:       f,
	})
	w.mu.Lock()
	w.ingested[path] = info.ModTime()
	w.mu.Unlock()
	if err != nil {
		w.logger.Warn("inbox ingestion failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("inbox file ingested",
		zap.String("path", path),
		zap.String("file_id", sum.FileID),
		zap.String("status", string(sum.Status)),
		zap.Int64("total_rows", sum.TotalRows),
	)
}

func (w *Watcher) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return err
		}
	}
	if !w.recursive {
		return w.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// addDirectory watches a directory created under a root, with its subdirectories.
func (w *Watcher) addDirectory(dir string) {
	w.mu.Lock()
	fsw := w.watcher
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				w.logger.Warn("inbox failed to watch directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
}

// scan queues every spreadsheet already under dir.
func (w *Watcher) scan(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if isSpreadsheet(path) {
			w.schedule(ctx, path)
		}
		return nil
	})
}
