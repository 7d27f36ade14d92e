package bundles

import "errors"

var (
	ErrNotFound = errors.New("bundle not found")

	// ErrInvalidUpload covers missing name, project or files.
	ErrInvalidUpload = errors.New("invalid bundle upload")

	// ErrDuplicateFeed indicates a feed id that is already registered, or
	// appears twice within one upload.
	ErrDuplicateFeed = errors.New("duplicate feed id")

	// ErrNoStops indicates an upload whose feeds contain no located stops.
	ErrNoStops = errors.New("bundle has no stops")
)
