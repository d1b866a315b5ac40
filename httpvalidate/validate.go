// Package httpvalidate turns a non-success HTTP response into a typed
// failure, for callers that sit above or bypass the resiliency layer and
// want a terminal error rather than a raw *http.Response to inspect.
package httpvalidate

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const maxBodySnippet = 4 << 10

// Validate returns resp unchanged if its status is 2xx. Otherwise it reads
// and closes the body, then fails with a TooManyRequestsError (429) or a
// HttpFailureError (anything else non-2xx).
func Validate(resp *http.Response) (*http.Response, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, err := readAndClose(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read non-success response body")
	}

	message := buildMessage(resp.StatusCode, resp.Status, body)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfterSec, has := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &TooManyRequestsError{
			Status:        resp.StatusCode,
			Message:       message,
			RetryAfterSec: retryAfterSec,
			HasRetryAfter: has,
		}
	}

	return nil, &HttpFailureError{Status: resp.StatusCode, Message: message}
}

func readAndClose(body io.ReadCloser) (string, error) {
	if body == nil {
		return "", nil
	}
	defer body.Close()
	data, err := io.ReadAll(io.LimitReader(body, maxBodySnippet))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func buildMessage(code int, reason string, body string) string {
	var b strings.Builder
	b.WriteString("The server returned the non-success status code ")
	b.WriteString(strconv.Itoa(code))
	b.WriteString(" (")
	b.WriteString(strings.TrimPrefix(reason, strconv.Itoa(code)+" "))
	b.WriteString(").")
	if body != "" {
		b.WriteString("\nMore error details:\n")
		b.WriteString(body)
		b.WriteString(".")
	}
	return b.String()
}

// parseRetryAfter accepts only the delta-seconds form of Retry-After. The
// absolute-date (HTTP-date) form is ignored, per spec.
func parseRetryAfter(header string) (seconds int, ok bool) {
	if header == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
