package backup

import "fmt"

// Retention bounds the number of snapshots kept in a store.
type Retention struct {
	store  *SnapshotStore
	logger Logger
}

// NewRetention creates a retention policy over store.
func NewRetention(store *SnapshotStore, logger Logger) *Retention {
	return &Retention{store: store, logger: logger}
}

// Prune deletes the oldest snapshots beyond maxCount. A failed delete is
// logged and skipped; it never stops the remaining deletions. Pinned
// snapshots are kept even when they fall outside maxCount.
// Returns the number of snapshots deleted.
func (r *Retention) Prune(maxCount int) (int, error) {
	if maxCount < 1 {
		return 0, fmt.Errorf("max snapshot count must be at least 1, got %d", maxCount)
	}

	snapshots, err := r.store.List()
	if err != nil {
		return 0, fmt.Errorf("listing snapshots: %w", err)
	}
	if len(snapshots) <= maxCount {
		return 0, nil
	}

	excess := snapshots[maxCount:]
	r.logger.Debug("pruning old snapshots", "count", len(excess), "max_backups", maxCount)

	deleted := 0
	for _, snap := range excess {
		if r.store.IsPinned(snap.Path) {
			r.logger.Debug("keeping pinned snapshot", "path", snap.Path)
			continue
		}
		if err := r.store.Delete(snap.Path); err != nil {
			r.logger.Warn("could not delete old snapshot", "path", snap.Path, "error", err)
			continue
		}
		deleted++
		r.logger.Debug("old snapshot removed", "path", snap.Path)
	}

	return deleted, nil
}
