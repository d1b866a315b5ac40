package forgeauth

import (
	"fmt"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

// InvalidArgumentError is raised by RoundTrip when the request URL is empty
// or the handler has been closed. An unresolvable agent name surfaces as a
// tokenfetch.InvalidConfigurationError instead.
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string {
	return "forgeauth: " + e.Message
}

// CircuitOpenError wraps the underlying failsafe-go circuitbreaker.ErrOpen
// so callers can match on either this type or the library sentinel via
// errors.Is/errors.As, without needing to import failsafe-go themselves.
type CircuitOpenError struct {
	Agent string
	Scope string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("forgeauth: circuit breaker open for agent %q scope %q", e.Agent, e.Scope)
}

func (e *CircuitOpenError) Unwrap() error {
	return circuitbreaker.ErrOpen
}
