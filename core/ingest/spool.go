package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/adalundhe/lattice/core/componentgraphdb"
)

// DefaultSpoolDebounce is how long a spooled file must sit quiet
// before it is read. Writers that stream a record in several writes
// get one ingestion, not several partial ones.
const DefaultSpoolDebounce = 100 * time.Millisecond

var (
	ErrSpoolNotExist     = errors.New("spool directory does not exist")
	ErrSpoolNotDirectory = errors.New("spool path is not a directory")
)

// SpoolConfig configures the spool watcher.
type SpoolConfig struct {
	// Dir is the directory watched for component record JSON files.
	Dir string `yaml:"dir"`

	// Debounce is the quiet period before a changed file is read.
	Debounce time.Duration `yaml:"debounce"`

	// RemoveAfterIngest deletes spool files once absorbed.
	RemoveAfterIngest bool `yaml:"remove_after_ingest"`
}

// SpoolWatcher feeds JSON component records dropped into a directory
// through the pipeline. Files are picked up on create and write
// events, debounced per path.
type SpoolWatcher struct {
	config   SpoolConfig
	pipeline *Pipeline
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	mu       sync.Mutex
	pending  map[string]*time.Timer
	stopped  bool
	stopOnce sync.Once
}

// NewSpoolWatcher creates a watcher over the configured spool
// directory.
func NewSpoolWatcher(config SpoolConfig, pipeline *Pipeline, logger *slog.Logger) (*SpoolWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultSpoolDebounce
	}

	info, err := os.Stat(config.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSpoolNotExist
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrSpoolNotDirectory
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &SpoolWatcher{
		config:   config,
		pipeline: pipeline,
		watcher:  watcher,
		logger:   logger,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Start ingests any records already spooled, then watches for new
// ones until the context is cancelled or Stop is called.
func (w *SpoolWatcher) Start(ctx context.Context) error {
	if err := w.ingestExisting(ctx); err != nil {
		return err
	}
	if err := w.watcher.Add(w.config.Dir); err != nil {
		return fmt.Errorf("failed to watch spool dir: %w", err)
	}

	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher. Safe to call multiple times.
func (w *SpoolWatcher) Stop() error {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		for _, timer := range w.pending {
			timer.Stop()
		}
		w.pending = make(map[string]*time.Timer)
		w.mu.Unlock()

		w.watcher.Close()
	})
	return nil
}

func (w *SpoolWatcher) ingestExisting(ctx context.Context) error {
	return filepath.WalkDir(w.config.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isRecordFile(path) {
			return nil
		}
		w.ingestFile(ctx, path)
		return nil
	})
}

func (w *SpoolWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *SpoolWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !isRecordFile(event.Name) {
		return
	}
	w.scheduleIngest(ctx, event.Name)
}

// scheduleIngest arms or rearms the debounce timer for a path.
func (w *SpoolWatcher) scheduleIngest(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if existing, ok := w.pending[path]; ok {
		existing.Stop()
	}
	w.pending[path] = time.AfterFunc(w.config.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		stopped := w.stopped
		w.mu.Unlock()
		if !stopped {
			w.ingestFile(ctx, path)
		}
	})
}

func (w *SpoolWatcher) ingestFile(ctx context.Context, path string) {
	record, err := readRecordFile(path)
	if err != nil {
		w.logger.Warn("skipping unreadable spool file", "path", path, "error", err)
		return
	}

	result, err := w.pipeline.Ingest(ctx, record)
	if err != nil {
		w.logger.Warn("spool ingest failed", "path", path, "error", err)
		return
	}

	w.logger.Info("spool file ingested",
		"path", path,
		"component_id", result.ComponentID,
		"status", string(result.Status))

	if w.config.RemoveAfterIngest && result.Status != StatusDeferred {
		if err := os.Remove(path); err != nil {
			w.logger.Warn("failed to remove spool file", "path", path, "error", err)
		}
	}
}

func readRecordFile(path string) (*componentgraphdb.ComponentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var record componentgraphdb.ComponentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("invalid record json: %w", err)
	}
	return &record, nil
}

func isRecordFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
