package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrDatabaseMissing is returned when a snapshot is requested but the
	// live database file does not exist.
	ErrDatabaseMissing = errors.New("live database file not found")

	// ErrConsistentCopyFailed is returned when the database engine could not
	// produce a snapshot (disk full, permissions, I/O).
	ErrConsistentCopyFailed = errors.New("consistent copy failed")

	// ErrSourceNotFound is returned when a restore names a file that does not exist.
	ErrSourceNotFound = errors.New("restore source not found")

	// ErrSourceConflict is returned when the restore source is the live
	// database or one of the files the restore itself writes.
	ErrSourceConflict = errors.New("restore source is the live database or one of its restore files")

	// ErrHandleRelease is returned when the live database could not be closed
	// before a restore. Nothing has been modified when it is returned.
	ErrHandleRelease = errors.New("releasing database handles failed")

	// ErrSwapFailed is returned when a restore failed during the rename or
	// copy-in phase and the previous live database was put back.
	ErrSwapFailed = errors.New("restore swap failed")

	// ErrRollbackFailed is returned when putting the previous live database
	// back also failed. The live database may be missing or partial.
	ErrRollbackFailed = errors.New("restore rollback failed")

	// ErrRestoreInProgress is returned when a restore is requested while
	// another one is running.
	ErrRestoreInProgress = errors.New("a restore is already in progress")
)

// RollbackError reports the unrecoverable restore outcome. The previous live
// database is left at RollbackPath for manual recovery.
type RollbackError struct {
	RollbackPath string
	SwapErr      error
	Err          error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("%v: previous database left at %s: %v (after: %v)",
		ErrRollbackFailed, e.RollbackPath, e.Err, e.SwapErr)
}

func (e *RollbackError) Unwrap() []error {
	return []error{ErrRollbackFailed, e.SwapErr, e.Err}
}
