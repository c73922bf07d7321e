package stream

import "errors"

var (
	// ErrInvalidSegment rejects segment names outside the fixed pattern
	// or resolving outside the asset's cache directory.
	ErrInvalidSegment = errors.New("invalid segment name")

	// ErrNotFound means the resolved path is absent and no build is owed.
	ErrNotFound = errors.New("segment not found")

	// ErrNotReady means the stream exists but did not reach its readiness
	// threshold within the deadline; clients are expected to retry.
	ErrNotReady = errors.New("stream not ready")
)
