package results

import "errors"

var (
	// ErrInvalidFormat is a client error: the format is outside grid|png|tiff.
	ErrInvalidFormat = errors.New("invalid result format")

	// ErrUnsupportedAnalysis is returned for analyses that can no longer be
	// reduced, such as the legacy average-accessibility mode.
	ErrUnsupportedAnalysis = errors.New("unsupported regional analysis")

	// ErrArtifactNotFound means the requested blob does not exist.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrOutOfBounds means a requested point lies outside the analysis grid.
	ErrOutOfBounds = errors.New("point outside analysis bounds")
)
