package httpvalidate

import "fmt"

// TooManyRequestsError is raised by Validate for a 429 response.
// RetryAfterSec is the delta-seconds the server asked the caller to wait, if
// it expressed one; HasRetryAfter reports whether that field is meaningful.
type TooManyRequestsError struct {
	Status        int
	Message       string
	RetryAfterSec int
	HasRetryAfter bool
}

func (e *TooManyRequestsError) Error() string {
	return fmt.Sprintf("too many requests (%d): %s", e.Status, e.Message)
}

// HttpFailureError is raised by Validate for any other non-2xx response.
type HttpFailureError struct {
	Status  int
	Message string
}

func (e *HttpFailureError) Error() string {
	return fmt.Sprintf("http failure (%d): %s", e.Status, e.Message)
}
