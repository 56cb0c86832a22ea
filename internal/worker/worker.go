// Package worker provides background task infrastructure for the dispatcher's
// long-lived collaborators: the output log writer and the status server.
package worker

import "context"

// Worker is a long-running background task.
type Worker interface {
	// Name returns a human-readable identifier for logging.
	Name() string
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}
