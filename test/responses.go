package test

import (
	"fmt"
	"net/http"
)

// JSON writes status with a JSON body, for handlers that don't want to
// build the response by hand.
func JSON(status int, body string) HandlerFunc {
	return func(w http.ResponseWriter, _ string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

// Status writes a bare status code with no body.
func Status(status int) HandlerFunc {
	return func(w http.ResponseWriter, _ string) {
		w.WriteHeader(status)
	}
}

// TokenResponse answers a client_credentials token request.
func TokenResponse(accessToken string, expiresInSec int) HandlerFunc {
	return JSON(http.StatusOK, fmt.Sprintf(
		`{"token_type":"Bearer","access_token":%q,"expires_in":%d}`,
		accessToken, expiresInSec,
	))
}

// RetryAfter writes a 429 carrying a Retry-After: seconds header.
func RetryAfter(seconds int) HandlerFunc {
	return func(w http.ResponseWriter, _ string) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
		w.WriteHeader(http.StatusTooManyRequests)
	}
}
