package licensing

import (
	"errors"
	"fmt"
)

// ErrAuthorizationNotFound signals that no vendor credentials exist for the
// requested authorization. This is a configuration error: the pass for the
// affected agreement is aborted with a single log line and no alert.
var ErrAuthorizationNotFound = errors.New("licensing: authorization not found")

// APIError is a vendor platform error carrying the vendor's own code and
// message. The code drives routing: StatusInvalidCustomer triggers the
// lost-customer procedure, every other code surfaces to the caller.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("licensing: vendor error %s: %s", e.Code, e.Message)
}

// IsInvalidCustomer reports whether err is the vendor's "invalid customer"
// signal, meaning the customer no longer exists on the vendor side.
func IsInvalidCustomer(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == StatusInvalidCustomer
}
