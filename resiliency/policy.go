// Package resiliency composes the circuit breaker, retry, and timeout
// layers that guard a single outbound HTTP send, in strictly this order
// (outermost first): breaker -> retry -> timeout -> send.
//
// The composition is built on github.com/failsafe-go/failsafe-go's
// failsafehttp facade, the same one the teacher module uses for its own
// OIDC discovery HTTP client (security/tokenverifier/client.go's
// CreateHttpClient: failsafehttp.NewRoundTripper(inner,
// failsafehttp.NewRetryPolicyBuilder()...Build())). Timeout is innermost so
// each attempt is independently bounded; retry sits outside timeout so a
// timed-out attempt becomes a retryable event; the breaker is outermost so
// it observes the retry layer's delays as part of its failure window and
// can short-circuit the inner layers entirely once open.
package resiliency

import (
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/failsafehttp"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/failsafe-go/failsafe-go/timeout"

	"github.com/cloudforge-platform/forge-authclient/forgelog"
)

// Defaults from spec: per-attempt timeout chosen deliberately above the
// upstream gateway's 10s ceiling, so a stuck upstream surfaces as an HTTP
// 504 rather than a local timeout.
const (
	DefaultTimeout = 15 * time.Second

	retryMaxRetries = 5
	retryBaseDelay  = 500 * time.Millisecond
	retryMultiplier = time.Second

	breakerFailureThreshold = 3
	breakerOpenDuration     = time.Minute
)

var logger = forgelog.Get("resiliency")

// Policy is one breaker(retry(timeout(next))) composition wrapped around
// next, built with failsafehttp.NewRoundTripper the way the teacher module
// builds its own resiliency-wrapped client. Breaker state is owned by the
// Policy instance and shared across every request that flows through it -
// build one Policy per AuthHandler (the instance-default) and reuse it,
// except for the rare per-call custom-timeout path which intentionally
// gets its own Policy and therefore its own breaker scope.
type Policy struct {
	rt http.RoundTripper
}

// New builds a Policy whose per-attempt timeout is attemptTimeout, wrapping
// next (the underlying transport that performs the real send).
func New(attemptTimeout time.Duration, next http.RoundTripper) *Policy {
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultTimeout
	}

	to := timeout.New[*http.Response](attemptTimeout)

	retry := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(isTransient).
		WithMaxRetries(retryMaxRetries).
		WithDelayFunc(jitterDelay).
		OnRetry(func(e failsafe.ExecutionEvent[*http.Response]) {
			logger.Warn().Int("attempt", e.Attempts()).Msg("retrying outbound request")
		}).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(isBreakerFailure).
		WithFailureThreshold(breakerFailureThreshold).
		WithDelay(breakerOpenDuration).
		OnOpen(func(e circuitbreaker.StateChangedEvent) {
			logger.Error().Msg("circuit breaker opened")
		}).
		OnClose(func(e circuitbreaker.StateChangedEvent) {
			logger.Info().Msg("circuit breaker closed")
		}).
		Build()

	return &Policy{
		rt: failsafehttp.NewRoundTripper(next, breaker, retry, to),
	}
}

// RoundTrip sends req through the composed policy. Per-attempt context
// substitution and request body replay on retry are failsafehttp's
// responsibility, not this package's.
func (p *Policy) RoundTrip(req *http.Request) (*http.Response, error) {
	return p.rt.RoundTrip(req)
}

var retriableStatuses = map[int]bool{
	http.StatusRequestTimeout:     true, // 408
	http.StatusTooManyRequests:    true, // 429
	http.StatusBadGateway:         true, // 502
	http.StatusServiceUnavailable: true, // 503
	http.StatusGatewayTimeout:     true, // 504
}

// isTransient matches spec.md §4.4's retry predicate: a raised timeout, a
// connection-level transport failure, or one of {408,429,502,503,504}.
// 500 is deliberately excluded - a real server error, not worth retrying.
func isTransient(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return retriableStatuses[resp.StatusCode]
}

// isBreakerFailure is isTransient plus a bare 500, per spec.md §4.4.
func isBreakerFailure(resp *http.Response, err error) bool {
	if isTransient(resp, err) {
		return true
	}
	return resp != nil && resp.StatusCode == http.StatusInternalServerError
}

// jitterDelay implements the source's non-standard backoff window:
// clientWait = uniformRandom[baseDelayMs, 2^n*multiplier), summed with any
// Retry-After the server expressed as delta-seconds. The lower bound is
// constant while the upper bound grows exponentially, so the window is
// only guaranteed non-empty for n>=1 (2^1*1000ms = 2000ms > 500ms) - an
// intentionally preserved quirk, not a pure exponential backoff.
func jitterDelay(exec failsafe.ExecutionAttempt[*http.Response]) time.Duration {
	n := exec.Attempts()
	if n < 1 {
		n = 1
	}
	upperMs := (int64(1) << uint(n)) * retryMultiplier.Milliseconds()
	baseMs := retryBaseDelay.Milliseconds()
	if upperMs <= baseMs {
		upperMs = baseMs + 1
	}
	clientWait := time.Duration(baseMs+rand.Int64N(upperMs-baseMs)) * time.Millisecond

	if resp := exec.LastResult(); resp != nil {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if sec, ok := parseRetryAfterSeconds(retryAfter); ok {
				return time.Duration(sec)*time.Second + clientWait
			}
		}
	}
	return clientWait
}

func parseRetryAfterSeconds(header string) (int, bool) {
	n := 0
	for _, c := range header {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, header != ""
}
