package domain

import "errors"

// Error kinds. Callers wrap these with fmt.Errorf("%w: ...") and test
// them with errors.Is; the API layer maps each kind to a status code.
var (
	// ErrValidation marks bad or missing input. No side effects were attempted.
	ErrValidation = errors.New("validation error")

	// ErrConflict marks a duplicate trigger name.
	ErrConflict = errors.New("conflict")

	// ErrUpstream marks a trigger authority that was unreachable or rejected the request.
	ErrUpstream = errors.New("trigger authority error")

	// ErrChannel marks a failed publish on the device command channel.
	ErrChannel = errors.New("command channel error")

	// ErrPersistence marks a failed read or write on the record or readings store.
	ErrPersistence = errors.New("persistence error")

	// ErrNotFound marks a lookup miss.
	ErrNotFound = errors.New("not found")
)
