package upload

import "context"

// Syncer shares the local history file through remote storage.
type Syncer interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Upload pushes the history file at localFile to the configured key.
	Upload(ctx context.Context, localFile string) error

	// Download replaces localFile with the remote history file. It returns
	// false, leaving localFile untouched, when no remote history exists.
	Download(ctx context.Context, localFile string) (bool, error)
}
