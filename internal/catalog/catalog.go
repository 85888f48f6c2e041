// Package catalog resolves the opaque per-operation query identifiers the
// upstream GraphQL API requires. The upstream rotates identifiers without
// notice, so resolution layers a runtime snapshot (discovered from the
// platform's JS bundle and persisted across restarts) over compiled-in
// fallback constants. Lookup never fails: a stale, missing, or erroring
// runtime store always degrades to the fallback constant.
package catalog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSnapshotTTL = 24 * time.Hour

	logMessageRefreshFailed    = "identifier refresh failed"
	logMessageRefreshSkipped   = "identifier refresh skipped: snapshot still fresh"
	logMessageSnapshotLoadFail = "identifier snapshot load failed"
	logMessageSnapshotSaveFail = "identifier snapshot save failed"
	logMessageRefreshApplied   = "identifier refresh applied"
	logFieldOperationCount     = "operations"
)

// Store persists the runtime identifier snapshot across process restarts.
type Store interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}

// Discoverer re-discovers current identifiers for the given operations, e.g.
// by scraping the platform's JS bundle.
type Discoverer interface {
	Discover(ctx context.Context, operations []Operation) (map[Operation]string, error)
}

// Config customizes a Catalog instance. Zero values select the compiled-in
// defaults.
type Config struct {
	Store      Store
	Discoverer Discoverer
	TTL        time.Duration
	Fallbacks  map[Operation]string
	Alternates map[Operation][]string
	Logger     *zap.Logger
}

// Catalog maps operations to their current best-known query identifiers.
// Safe for concurrent use: readers observe either the previous or the new
// snapshot during a refresh, never a torn value.
type Catalog struct {
	store      Store
	discoverer Discoverer
	ttl        time.Duration
	fallbacks  map[Operation]string
	alternates map[Operation][]string
	logger     *zap.Logger

	mutex    sync.RWMutex
	snapshot Snapshot
}

// New constructs a Catalog, loading any persisted snapshot. Load failures
// are logged and swallowed; the catalog starts from the fallbacks alone.
func New(configuration Config) *Catalog {
	ttl := configuration.TTL
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	fallbacks := configuration.Fallbacks
	if fallbacks == nil {
		fallbacks = defaultFallbackIdentifiers
	}
	alternates := configuration.Alternates
	if alternates == nil {
		alternates = defaultHistoricalAlternates
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	instance := &Catalog{
		store:      configuration.Store,
		discoverer: configuration.Discoverer,
		ttl:        ttl,
		fallbacks:  fallbacks,
		alternates: alternates,
		logger:     logger,
	}
	if instance.store != nil {
		snapshot, loadErr := instance.store.Load()
		if loadErr != nil {
			logger.Debug(logMessageSnapshotLoadFail, zap.Error(loadErr))
		} else {
			instance.snapshot = snapshot
		}
	}
	return instance
}

// Resolve returns the current best-known identifier for the operation. It
// prefers a fresh snapshot value and otherwise falls back to the compiled
// constant; the result is never empty for a known operation.
func (instance *Catalog) Resolve(operation Operation) string {
	instance.mutex.RLock()
	snapshot := instance.snapshot
	instance.mutex.RUnlock()

	if identifier, ok := snapshot.Identifiers[operation]; ok && identifier != "" && !snapshot.Expired(instance.ttl) {
		return identifier
	}
	return instance.fallbacks[operation]
}

// Candidates returns the ordered fallback list for an operation: the
// resolved identifier first, then known-good historical alternates,
// deduplicated preserving first-seen order.
func (instance *Catalog) Candidates(operation Operation) []string {
	ordered := make([]string, 0, 1+len(instance.alternates[operation])+1)
	ordered = appendUnique(ordered, instance.Resolve(operation))
	for _, alternate := range instance.alternates[operation] {
		ordered = appendUnique(ordered, alternate)
	}
	ordered = appendUnique(ordered, instance.fallbacks[operation])
	return ordered
}

// Refresh attempts to re-discover identifiers for the given operations and
// persist the result. Every failure is swallowed: callers must never block
// on refresh success. When force is false a fresh snapshot short-circuits.
func (instance *Catalog) Refresh(ctx context.Context, operations []Operation, force bool) {
	if instance.discoverer == nil {
		return
	}
	if !force {
		instance.mutex.RLock()
		fresh := !instance.snapshot.Expired(instance.ttl)
		instance.mutex.RUnlock()
		if fresh {
			instance.logger.Debug(logMessageRefreshSkipped)
			return
		}
	}

	discovered, discoverErr := instance.discoverer.Discover(ctx, operations)
	if discoverErr != nil {
		instance.logger.Debug(logMessageRefreshFailed, zap.Error(discoverErr))
		return
	}
	if len(discovered) == 0 {
		return
	}

	instance.mutex.Lock()
	merged := instance.snapshot.merge(discovered)
	instance.snapshot = merged
	instance.mutex.Unlock()

	instance.logger.Debug(logMessageRefreshApplied, zap.Int(logFieldOperationCount, len(discovered)))

	if instance.store != nil {
		if saveErr := instance.store.Save(merged); saveErr != nil {
			instance.logger.Debug(logMessageSnapshotSaveFail, zap.Error(saveErr))
		}
	}
}

// replaceSnapshot swaps in an externally-loaded snapshot (watcher reloads).
func (instance *Catalog) replaceSnapshot(snapshot Snapshot) {
	instance.mutex.Lock()
	instance.snapshot = snapshot
	instance.mutex.Unlock()
}

func appendUnique(identifiers []string, identifier string) []string {
	if identifier == "" {
		return identifiers
	}
	for _, existing := range identifiers {
		if existing == identifier {
			return identifiers
		}
	}
	return append(identifiers, identifier)
}
