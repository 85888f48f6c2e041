package catalog_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/perch-app/perch/internal/catalog"
)

func awaitResolved(t *testing.T, instance *catalog.Catalog, operation catalog.Operation, expected string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if instance.Resolve(operation) == expected {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("watcher did not pick up %q, still resolving %q", expected, instance.Resolve(operation))
}

func TestWatchSurvivesAtomicRenameRewrites(t *testing.T) {
	snapshotPath := filepath.Join(t.TempDir(), "identifiers.json")
	store := catalog.NewFileStore(snapshotPath)
	if saveErr := store.Save(catalog.Snapshot{
		FetchedAt:   time.Now(),
		Identifiers: map[catalog.Operation]string{catalog.OperationTweetDetail: "initial-id"},
	}); saveErr != nil {
		t.Fatalf("seed save failed: %v", saveErr)
	}

	instance := catalog.New(catalog.Config{Store: store, TTL: time.Hour})
	if resolved := instance.Resolve(catalog.OperationTweetDetail); resolved != "initial-id" {
		t.Fatalf("expected seeded identifier, got %q", resolved)
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		_ = instance.Watch(watchCtx)
	}()

	// Give the watcher a moment to register before rewriting.
	time.Sleep(50 * time.Millisecond)

	// Save replaces the snapshot file via temp-file + rename, the same path
	// an external refresh takes.
	if saveErr := store.Save(catalog.Snapshot{
		FetchedAt:   time.Now(),
		Identifiers: map[catalog.Operation]string{catalog.OperationTweetDetail: "rewritten-id"},
	}); saveErr != nil {
		t.Fatalf("first rewrite failed: %v", saveErr)
	}
	awaitResolved(t, instance, catalog.OperationTweetDetail, "rewritten-id")

	// A second rewrite must also be observed: the watch has to outlive the
	// inode replaced by the first rename.
	if saveErr := store.Save(catalog.Snapshot{
		FetchedAt:   time.Now(),
		Identifiers: map[catalog.Operation]string{catalog.OperationTweetDetail: "second-id"},
	}); saveErr != nil {
		t.Fatalf("second rewrite failed: %v", saveErr)
	}
	awaitResolved(t, instance, catalog.OperationTweetDetail, "second-id")

	cancelWatch()
	<-watchDone
}

func TestWatchWithoutFileStoreReturnsImmediately(t *testing.T) {
	instance := catalog.New(catalog.Config{})
	if watchErr := instance.Watch(context.Background()); watchErr != nil {
		t.Fatalf("expected nil for a catalog without a file store, got %v", watchErr)
	}
}
