package resiliency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudforge-platform/forge-authclient/test"
)

func newRequest(t *testing.T, url string) *http.Request {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestPolicyRetriesOn503ThenSucceeds(t *testing.T) {
	srv := test.StartMockServer()
	defer srv.Close()
	srv.AddHandler("/data", test.Status(http.StatusServiceUnavailable))
	srv.AddHandler("/data", test.Status(http.StatusOK))

	p := New(2*time.Second, http.DefaultTransport)
	resp, err := p.RoundTrip(newRequest(t, srv.URL+"/data"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, srv.Calls("/data"))
}

func TestPolicyDoesNotRetry500(t *testing.T) {
	srv := test.StartMockServer()
	defer srv.Close()
	srv.AddHandler("/data", test.Status(http.StatusInternalServerError))

	p := New(2*time.Second, http.DefaultTransport)
	resp, err := p.RoundTrip(newRequest(t, srv.URL+"/data"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, 1, srv.Calls("/data"))
}

func TestPolicyBreakerTripsAfterThreeFailures(t *testing.T) {
	srv := test.StartMockServer()
	defer srv.Close()
	srv.AddHandler("/data", test.Status(http.StatusInternalServerError))

	p := New(500*time.Millisecond, http.DefaultTransport)
	for i := 0; i < breakerFailureThreshold; i++ {
		_, err := p.RoundTrip(newRequest(t, srv.URL+"/data"))
		require.NoError(t, err)
	}

	callsBefore := srv.Calls("/data")
	_, err := p.RoundTrip(newRequest(t, srv.URL+"/data"))
	require.Error(t, err)
	assert.Equal(t, callsBefore, srv.Calls("/data"), "breaker-open call must not reach the network")
}

func TestPolicyRetriesOn429AndHonorsRetryAfter(t *testing.T) {
	srv := test.StartMockServer()
	defer srv.Close()
	srv.AddHandler("/data", test.RetryAfter(2))
	srv.AddHandler("/data", test.Status(http.StatusOK))

	p := New(5*time.Second, http.DefaultTransport)
	start := time.Now()
	resp, err := p.RoundTrip(newRequest(t, srv.URL+"/data"))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, srv.Calls("/data"))
	assert.GreaterOrEqual(t, elapsed, 2*time.Second+retryBaseDelay, "must wait at least Retry-After plus the minimum jitter window")
}

func TestIsTransientPredicates(t *testing.T) {
	assert.True(t, isTransient(&http.Response{StatusCode: http.StatusTooManyRequests}, nil))
	assert.True(t, isTransient(&http.Response{StatusCode: http.StatusServiceUnavailable}, nil))
	assert.False(t, isTransient(&http.Response{StatusCode: http.StatusInternalServerError}, nil))
	assert.True(t, isBreakerFailure(&http.Response{StatusCode: http.StatusInternalServerError}, nil))
}
