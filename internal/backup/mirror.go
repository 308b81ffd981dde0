package backup

import (
	"context"
	"io"
)

// Mirror is a secondary location that receives best-effort copies of
// snapshots. Implementations stream from r; they never see the source path.
type Mirror interface {
	// Name identifies the mirror in logs.
	Name() string

	// Put stores the data read from r under name. size is the number of bytes
	// r will yield, or -1 when unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
}
