// Package watcher keeps the cache inventory in step with the cache
// directory: rasters deleted out-of-band lose their inventory rows, so
// counts never report files that are gone.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/gridflow/silogrid/internal/ports/output"
)

// Watcher watches the cache tree for deleted rasters.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	inventory output.CacheInventory
	logger    *slog.Logger
	root      string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a watcher over the cache root directory.
func New(root string, inventory output.CacheInventory, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsWatcher: fsWatcher,
		inventory: inventory,
		logger:    logger,
		root:      root,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start watches the cache tree. The {variable}/{year} layout means new
// directories appear as rasters are persisted; those are added to the
// watch set as they are created.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return err
	}
	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.logger.Info("watching cache directory", "path", w.root)

	w.wg.Add(1)
	go w.eventLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

// addTree registers every directory under root with the fs watcher.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if err := w.fsWatcher.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("cache watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Op.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		if !isRaster(event.Name) {
			return
		}
		w.logger.Info("cached raster removed out-of-band", "path", event.Name)
		if err := w.inventory.Remove(ctx, event.Name); err != nil {
			w.logger.Warn("failed to drop inventory row", "path", event.Name, "error", err)
		}
	}
}

func isRaster(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".tif")
}
