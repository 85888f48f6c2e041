package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const snapshotFilePermissions = 0o600

// Snapshot is the runtime identifier set discovered from the upstream
// bundle, stamped with its fetch time for TTL checks.
type Snapshot struct {
	FetchedAt   time.Time            `json:"fetched_at"`
	Identifiers map[Operation]string `json:"identifiers"`
}

// Expired reports whether the snapshot is older than the given TTL. An empty
// snapshot is always expired.
func (snapshot Snapshot) Expired(ttl time.Duration) bool {
	if snapshot.FetchedAt.IsZero() || len(snapshot.Identifiers) == 0 {
		return true
	}
	return time.Since(snapshot.FetchedAt) > ttl
}

func (snapshot Snapshot) merge(discovered map[Operation]string) Snapshot {
	merged := Snapshot{
		FetchedAt:   time.Now(),
		Identifiers: make(map[Operation]string, len(snapshot.Identifiers)+len(discovered)),
	}
	for operation, identifier := range snapshot.Identifiers {
		merged.Identifiers[operation] = identifier
	}
	for operation, identifier := range discovered {
		if identifier != "" {
			merged.Identifiers[operation] = identifier
		}
	}
	return merged
}

// FileStore persists snapshots as JSON at a fixed path.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore rooted at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file location.
func (store *FileStore) Path() string { return store.path }

// Load reads and decodes the persisted snapshot.
func (store *FileStore) Load() (Snapshot, error) {
	data, readErr := os.ReadFile(store.path)
	if readErr != nil {
		return Snapshot{}, readErr
	}
	var snapshot Snapshot
	if unmarshalErr := json.Unmarshal(data, &snapshot); unmarshalErr != nil {
		return Snapshot{}, unmarshalErr
	}
	return snapshot, nil
}

// Save encodes and writes the snapshot, creating parent directories as
// needed. The write goes through a temp file and rename so watchers never
// observe a partial snapshot.
func (store *FileStore) Save(snapshot Snapshot) error {
	data, marshalErr := json.MarshalIndent(snapshot, "", "  ")
	if marshalErr != nil {
		return marshalErr
	}
	if mkdirErr := os.MkdirAll(filepath.Dir(store.path), 0o700); mkdirErr != nil {
		return mkdirErr
	}
	temporaryPath := store.path + ".tmp"
	if writeErr := os.WriteFile(temporaryPath, data, snapshotFilePermissions); writeErr != nil {
		return writeErr
	}
	return os.Rename(temporaryPath, store.path)
}
