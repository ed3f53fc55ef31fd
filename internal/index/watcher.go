package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/starford/docintake/internal/storage"
)

// reconcileDelay debounces the sync pass scheduled after renames.
const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the bucket directories of store and
// indexes object changes until ctx is cancelled.
//
// New directories created at runtime are added to the watch list. Rename
// events trigger a debounced Sync that removes rows whose objects moved away
// and indexes objects that arrived under a new key.
func (x *Indexer) Watch(ctx context.Context, store *storage.FS) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	watched := make(map[string]bool, len(x.buckets))
	for _, b := range x.buckets {
		dir, err := store.BucketDir(b)
		if err != nil {
			return err
		}
		if err := addDirsRecursive(w, dir); err != nil {
			return err
		}
		watched[b] = true
	}

	x.logger.Info("watcher: started", slog.String("root", store.Root()))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			x.logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if _, err := x.Sync(ctx); err != nil {
				x.logger.Warn("reconcile: sync failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						x.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					scheduleReconcile()
					continue
				}
			}

			bucket, key, ok := store.Locate(ev.Name)
			if !ok || !watched[bucket] {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				obj, statErr := store.Stat(bucket, key)
				if statErr != nil {
					x.logger.Warn("watcher: stat failed", slog.String("path", storage.JoinPath(bucket, key)), slog.String("error", statErr.Error()))
					continue
				}
				if _, idxErr := x.IndexObject(ctx, obj); idxErr != nil {
					x.logger.Warn("watcher: index failed", slog.String("path", obj.Path()), slog.String("error", idxErr.Error()))
					continue
				}
				x.emit(EventIndexed, obj.Path())

			case ev.Op&fsnotify.Remove != 0:
				if delErr := x.Remove(ctx, bucket, key); delErr != nil {
					x.logger.Warn("watcher: delete failed", slog.String("path", storage.JoinPath(bucket, key)), slog.String("error", delErr.Error()))
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify reports only the old name; the new one arrives as
				// a Create when it stays inside a watched directory.
				if delErr := x.Remove(ctx, bucket, key); delErr != nil {
					x.logger.Warn("watcher: rename delete failed", slog.String("path", storage.JoinPath(bucket, key)), slog.String("error", delErr.Error()))
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			x.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
