package backup

import "context"

// DatabaseHandle is the live database as seen by the backup subsystem.
type DatabaseHandle interface {
	// Path returns the absolute path of the live database file.
	Path() string

	// ConsistentCopyTo writes a structurally valid point-in-time copy of the
	// database to destPath. It must work while the database is open and in use,
	// and must never modify the source.
	ConsistentCopyTo(ctx context.Context, destPath string) error

	// Release closes every open connection to the live file and drains any
	// connection pool. After Release returns nil the file may be renamed.
	Release() error
}

// Restarter is implemented by the host. RequestRestart is called exactly once
// after a successful restore; the host decides how to relaunch.
type Restarter interface {
	RequestRestart()
}

// RestartFunc adapts a plain function to the Restarter interface.
type RestartFunc func()

func (f RestartFunc) RequestRestart() { f() }
