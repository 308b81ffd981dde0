package backup

import (
	"context"
	"errors"
	"io/fs"
)

// Replicator streams finished snapshots to a Mirror. Failures are logged and
// never returned: replication must not turn a good snapshot into an error.
type Replicator struct {
	mirror Mirror
	fs     Filesystem
	logger Logger
}

// NewReplicator creates a replicator writing to mirror.
func NewReplicator(mirror Mirror, fsys Filesystem, logger Logger) *Replicator {
	return &Replicator{mirror: mirror, fs: fsys, logger: logger}
}

// Replicate copies snap to the mirror. The snapshot in the store is only read.
func (r *Replicator) Replicate(ctx context.Context, snap *Snapshot) {
	f, err := r.fs.Open(snap.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Debug("snapshot gone before replication", "path", snap.Path)
			return
		}
		r.logger.Error("replication failed: opening snapshot", "path", snap.Path, "mirror", r.mirror.Name(), "error", err)
		return
	}
	defer f.Close()

	r.logger.Debug("replicating snapshot", "name", snap.Name, "mirror", r.mirror.Name())
	if err := r.mirror.Put(ctx, snap.Name, f, snap.Size); err != nil {
		r.logger.Error("replication failed", "name", snap.Name, "mirror", r.mirror.Name(), "error", err)
		return
	}
	r.logger.Info("snapshot replicated", "name", snap.Name, "mirror", r.mirror.Name())
}
