package commerce

import (
	"errors"
	"fmt"
)

// ErrNotFound signals a commerce record that does not exist.
var ErrNotFound = errors.New("commerce: not found")

// APIError is a commerce platform error scoped to one failing operation.
type APIError struct {
	Operation string
	Status    int
	Detail    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("commerce: %s returned %d: %s", e.Operation, e.Status, e.Detail)
}

// IsAPIError extracts an APIError from an error chain.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
