package forgeauth

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudforge-platform/forge-authclient/config"
	"github.com/cloudforge-platform/forge-authclient/test"
	"github.com/cloudforge-platform/forge-authclient/tokencache"
)

func newHandler(t *testing.T, srv *test.MockServer) *AuthHandler {
	cfg := &config.Config{
		ClientID:              "root-client",
		ClientSecret:          "root-secret",
		AuthenticationAddress: srv.URL + "/oauth/token",
	}
	return New(cfg)
}

func doGet(t *testing.T, h *AuthHandler, url string, opts RequestOptions) *http.Response {
	req, err := http.NewRequestWithContext(WithOptions(context.Background(), opts), http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := h.RoundTrip(req)
	require.NoError(t, err)
	return resp
}

func TestUnauthenticatedRequestSkipsTokenFetch(t *testing.T) {
	srv := test.StartMockServer()
	defer srv.Close()
	srv.AddHandler("/data", test.Status(http.StatusOK))

	h := newHandler(t, srv)
	resp := doGet(t, h, srv.URL+"/data", RequestOptions{})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, srv.Contains("/oauth/token"))
}

func TestAcquiresAndCachesToken(t *testing.T) {
	srv := test.StartMockServer()
	defer srv.Close()
	srv.AddHandler("/oauth/token", test.TokenResponse("tok1", 3600))
	var lastAuth atomic.Value
	srv.AddHandler("/data", func(w http.ResponseWriter, _ string) {
		w.WriteHeader(http.StatusOK)
	})

	h := newHandler(t, srv)
	req1, _ := http.NewRequestWithContext(WithOptions(context.Background(), RequestOptions{Scope: "data:read"}), http.MethodGet, srv.URL+"/data", nil)
	resp1, err := h.RoundTrip(req1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp1.StatusCode)
	lastAuth.Store(req1.Header.Get("Authorization"))

	req2, _ := http.NewRequestWithContext(WithOptions(context.Background(), RequestOptions{Scope: "data:read"}), http.MethodGet, srv.URL+"/data", nil)
	resp2, err := h.RoundTrip(req2)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	assert.Equal(t, 1, srv.Calls("/oauth/token"), "second call must reuse the cached token")
	assert.Equal(t, "Bearer tok1", req2.Header.Get("Authorization"))
}

func TestRefreshOnUnauthorized(t *testing.T) {
	srv := test.StartMockServer()
	defer srv.Close()
	srv.AddHandler("/oauth/token", test.TokenResponse("fresh-token", 3600))
	srv.AddHandler("/data", test.Status(http.StatusUnauthorized))
	srv.AddHandler("/data", test.Status(http.StatusOK))

	h := newHandler(t, srv)
	h.cache.Add(tokencache.Key("", "data:read"), "Bearer stale", time.Hour)

	req, _ := http.NewRequestWithContext(WithOptions(context.Background(), RequestOptions{Scope: "data:read"}), http.MethodGet, srv.URL+"/data", nil)

	resp, err := h.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, srv.Calls("/data"))
	assert.Equal(t, 1, srv.Calls("/oauth/token"))
	assert.Equal(t, "Bearer fresh-token", req.Header.Get("Authorization"))
}

func TestThunderingHerdSharesOneTokenFetch(t *testing.T) {
	srv := test.StartMockServer()
	defer srv.Close()
	srv.AddHandler("/oauth/token", test.TokenResponse("shared-token", 3600))
	srv.AddHandler("/data", test.Status(http.StatusOK))

	h := newHandler(t, srv)

	const n = 20
	var wg sync.WaitGroup
	headers := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequestWithContext(WithOptions(context.Background(), RequestOptions{Scope: "data:read"}), http.MethodGet, srv.URL+"/data", nil)
			resp, err := h.RoundTrip(req)
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			headers[i] = req.Header.Get("Authorization")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, srv.Calls("/oauth/token"))
	for _, h := range headers {
		assert.Equal(t, "Bearer shared-token", h)
	}
}

func TestInvalidArgumentOnEmptyURL(t *testing.T) {
	srv := test.StartMockServer()
	defer srv.Close()
	h := newHandler(t, srv)

	req := &http.Request{}
	_, err := h.RoundTrip(req)
	require.Error(t, err)

	var invalid *InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
}

func TestCloseRejectsFurtherRequests(t *testing.T) {
	srv := test.StartMockServer()
	defer srv.Close()
	srv.AddHandler("/data", test.Status(http.StatusOK))

	h := newHandler(t, srv)
	require.NoError(t, h.Close(context.Background()))

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/data", nil)
	_, err := h.RoundTrip(req)
	require.Error(t, err)
}
