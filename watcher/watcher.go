// Package watcher drives sending from the outgoing spool: it watches the
// spool tree for DICOM files, waits for a folder to go quiet, and hands
// quiet folders to a processing callback one at a time.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dicomrt/follow/faildir"
)

// ProcessFunc handles one quiet spool folder. It is called with the
// processing lock held, so at most one invocation runs at a time.
type ProcessFunc func(ctx context.Context, folder string)

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// WithInactivity sets how long a folder must stay quiet before processing.
func WithInactivity(d time.Duration) Option {
	return func(w *Watcher) { w.inactivity = d }
}

// WithRetry sets the requeue delay for folders that were empty or busy.
func WithRetry(d time.Duration) Option {
	return func(w *Watcher) { w.retry = d }
}

// WithRescanInterval sets the interval of the full spool rescan.
func WithRescanInterval(d time.Duration) Option {
	return func(w *Watcher) { w.rescanInterval = d }
}

// WithEmptyDirAge sets the minimum age before an empty directory is reaped.
func WithEmptyDirAge(d time.Duration) Option {
	return func(w *Watcher) { w.emptyAge = d }
}

// WithHeartbeat sets the liveness log interval.
func WithHeartbeat(d time.Duration) Option {
	return func(w *Watcher) { w.heartbeat = d }
}

// Watcher owns the spool directory tree.
type Watcher struct {
	spool   string
	process ProcessFunc

	inactivity     time.Duration
	retry          time.Duration
	rescanInterval time.Duration
	emptyAge       time.Duration
	heartbeat      time.Duration

	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer

	// processing serializes folder handling across timers.
	processing sync.Mutex
}

// New creates a watcher over the spool directory.
func New(spool string, process ProcessFunc, opts ...Option) *Watcher {
	w := &Watcher{
		spool:          spool,
		process:        process,
		inactivity:     13 * time.Second,
		retry:          14 * time.Second,
		rescanInterval: 300 * time.Second,
		emptyAge:       180 * time.Second,
		heartbeat:      120 * time.Second,
		logger:         slog.Default(),
		timers:         make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the spool until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.spool, 0o755); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.watchTree(fsw, w.spool); err != nil {
		return err
	}
	w.rescan(ctx)

	rescanTicker := time.NewTicker(w.rescanInterval)
	defer rescanTicker.Stop()
	reapTicker := time.NewTicker(w.rescanInterval)
	defer reapTicker.Stop()
	heartbeatTicker := time.NewTicker(w.heartbeat)
	defer heartbeatTicker.Stop()

	w.logger.InfoContext(ctx, "Watching outgoing spool", "spool", w.spool)

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "Filesystem watch error", "error", err)

		case <-rescanTicker.C:
			w.watchTree(fsw, w.spool)
			w.rescan(ctx)

		case <-reapTicker.C:
			w.reap(ctx)

		case <-heartbeatTicker.C:
			w.logger.InfoContext(ctx, "Folder watcher alive",
				"spool", w.spool, "armed_folders", w.armedCount())
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		// New directories need their own watch, and files may have
		// landed in them before the watch existed.
		w.watchTree(fsw, event.Name)
		w.rescan(ctx)
		return
	}

	if isDICOMName(event.Name) && !w.inFailedDir(event.Name) {
		w.armTimer(ctx, filepath.Dir(event.Name), w.inactivity)
	}
}

// watchTree adds watches for dir and every directory below it.
func (w *Watcher) watchTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if filepath.Base(path) == faildir.DirName {
			return filepath.SkipDir
		}
		fsw.Add(path)
		return nil
	})
}

// armTimer (re)schedules processing of a folder after d of quiet.
func (w *Watcher) armTimer(ctx context.Context, folder string, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[folder]; ok {
		t.Stop()
	}
	w.timers[folder] = time.AfterFunc(d, func() {
		w.onTimer(ctx, folder)
	})
}

func (w *Watcher) dropTimer(folder string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[folder]; ok {
		t.Stop()
		delete(w.timers, folder)
	}
}

func (w *Watcher) armedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}

func (w *Watcher) hasTimer(folder string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.timers[folder]
	return ok
}

// onTimer fires when a folder stayed quiet for the inactivity window.
// Folders are processed strictly one at a time; when another folder is in
// processing, this one is requeued for the next round.
func (w *Watcher) onTimer(ctx context.Context, folder string) {
	if ctx.Err() != nil {
		return
	}

	if !w.processing.TryLock() {
		w.armTimer(ctx, folder, w.retry)
		return
	}
	defer w.processing.Unlock()

	w.dropTimer(folder)

	files := enumerateDICOM(folder)
	if len(files) == 0 {
		if _, err := os.Stat(folder); err == nil {
			w.armTimer(ctx, folder, w.retry)
		}
		return
	}

	w.logger.InfoContext(ctx, "Processing spool folder",
		"folder", folder, "files", len(files))
	w.process(ctx, folder)

	w.reap(ctx)
}

// rescan arms timers for folders holding DICOM files that no timer covers.
// This guards against missed filesystem events.
func (w *Watcher) rescan(ctx context.Context) {
	seen := make(map[string]bool)
	filepath.WalkDir(w.spool, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if filepath.Base(path) == faildir.DirName {
				return filepath.SkipDir
			}
			return nil
		}
		if !isDICOMName(path) {
			return nil
		}
		dir := filepath.Dir(path)
		if !seen[dir] {
			seen[dir] = true
			if !w.hasTimer(dir) {
				w.armTimer(ctx, dir, w.inactivity)
			}
		}
		return nil
	})
}

// reap removes empty directories older than the configured age, walking
// bottom-up so emptied parents go in the same pass. The spool root and the
// quarantine directory are never touched.
func (w *Watcher) reap(ctx context.Context) {
	var dirs []string
	filepath.WalkDir(w.spool, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if filepath.Base(path) == faildir.DirName {
			return filepath.SkipDir
		}
		if path != w.spool {
			dirs = append(dirs, path)
		}
		return nil
	})

	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil || time.Since(info.ModTime()) < w.emptyAge {
			continue
		}
		if err := os.Remove(dir); err == nil {
			w.dropTimer(dir)
			w.logger.InfoContext(ctx, "Reaped empty directory", "dir", dir)
		}
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for folder, t := range w.timers {
		t.Stop()
		delete(w.timers, folder)
	}
}

func (w *Watcher) inFailedDir(path string) bool {
	rel, err := filepath.Rel(w.spool, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == faildir.DirName {
			return true
		}
	}
	return false
}

func isDICOMName(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".dcm")
}

func enumerateDICOM(folder string) []string {
	var files []string
	filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && isDICOMName(path) {
			files = append(files, path)
		}
		return nil
	})
	return files
}
