package catalog

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	logMessageWatcherStarted = "snapshot watcher started"
	logMessageWatcherStopped = "snapshot watcher stopped"
	logMessageWatcherReload  = "snapshot reloaded from disk"
	logMessageWatcherError   = "snapshot watcher error"
	logFieldSnapshotPath     = "path"
)

// Watch reloads the persisted snapshot whenever another process rewrites it,
// so long-lived clients pick up externally-refreshed identifiers without a
// restart. The containing directory is watched rather than the file itself:
// FileStore.Save replaces the file by renaming a temp file over it, and a
// watch registered on the file dies with the replaced inode. It blocks until
// the context is cancelled. Reload failures are logged and ignored; the
// in-memory snapshot stays in force.
func (instance *Catalog) Watch(ctx context.Context) error {
	fileStore, ok := instance.store.(*FileStore)
	if !ok || fileStore == nil {
		return nil
	}
	snapshotPath := filepath.Clean(fileStore.Path())

	watcher, watcherErr := fsnotify.NewWatcher()
	if watcherErr != nil {
		return watcherErr
	}
	defer watcher.Close()

	if addErr := watcher.Add(filepath.Dir(snapshotPath)); addErr != nil {
		return addErr
	}
	instance.logger.Debug(logMessageWatcherStarted, zap.String(logFieldSnapshotPath, snapshotPath))

	for {
		select {
		case <-ctx.Done():
			instance.logger.Debug(logMessageWatcherStopped)
			return ctx.Err()
		case event, open := <-watcher.Events:
			if !open {
				return nil
			}
			if filepath.Clean(event.Name) != snapshotPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			snapshot, loadErr := fileStore.Load()
			if loadErr != nil {
				instance.logger.Debug(logMessageSnapshotLoadFail, zap.Error(loadErr))
				continue
			}
			instance.replaceSnapshot(snapshot)
			instance.logger.Debug(logMessageWatcherReload)
		case watchErr, open := <-watcher.Errors:
			if !open {
				return nil
			}
			instance.logger.Debug(logMessageWatcherError, zap.Error(watchErr))
		}
	}
}
