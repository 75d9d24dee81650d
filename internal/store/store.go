// Package store persists completed fit results and minimizer traces on the
// filesystem.
package store

// Store defines the interface for fit result persistence.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the result doesn't exist (for Load/Delete)
//   - Return descriptive errors for I/O, serialization, or validation failures
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveResult atomically saves the result of a fit job. An existing
	// result for the same jobID is overwritten. Implementations should use
	// an atomic write strategy (temp file + rename) so a crash never leaves
	// a half-written result behind.
	SaveResult(jobID string, result *FitResult) error

	// LoadResult retrieves the result for the given job.
	// Returns ErrNotFound if no result exists for this jobID.
	LoadResult(jobID string) (*FitResult, error)

	// ListResults returns metadata for all persisted results. The returned
	// slice may be empty.
	ListResults() ([]ResultInfo, error)

	// DeleteResult removes the result and all associated artifacts for the
	// given job, including result.json and trace.jsonl.
	// Returns ErrNotFound if no result exists for this jobID.
	DeleteResult(jobID string) error
}

// ErrNotFound is returned when a requested fit result does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing fit result.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	if e.JobID != "" {
		return "fit result not found: " + e.JobID
	}
	return "fit result not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
