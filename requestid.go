package forgeauth

import "github.com/google/uuid"

// requestID generates a correlation id for X-Request-Id, so a request can be
// tied to a downstream service's access log and to this client's
// forced-refresh log line. Retry log lines do not carry it.
func requestID() string {
	return uuid.NewString()
}
