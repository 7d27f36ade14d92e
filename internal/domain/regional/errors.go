package regional

import "errors"

var (
	ErrNotFound = errors.New("regional analysis not found")

	ErrInvalidRequest = errors.New("invalid regional analysis request")

	// ErrBrokerUnavailable indicates the job broker could not be reached.
	ErrBrokerUnavailable = errors.New("job broker unavailable")
)
