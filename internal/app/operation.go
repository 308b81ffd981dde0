package app

import (
	"time"

	"github.com/google/uuid"
)

// Operation identifies one CLI invocation. Its ID tags every log line the
// invocation writes.
type Operation struct {
	ID        string
	Name      string
	Mutating  bool // changes lesson data, so a startup snapshot is taken first
	StartedAt time.Time
}

// NewOperation creates an operation with a fresh ID.
func NewOperation(name string, mutating bool) *Operation {
	return &Operation{
		ID:        uuid.New().String(),
		Name:      name,
		Mutating:  mutating,
		StartedAt: time.Now(),
	}
}
