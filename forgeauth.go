// Package forgeauth is the public interposer: an http.RoundTripper that
// acquires and caches OAuth2 client-credentials bearer tokens per
// (agent, scope), guards every send with a composed
// breaker/retry/timeout policy, and reactively refreshes a rejected
// token once before giving up.
//
// It is installed the way the teacher module installs its own bearer-token
// transport (security/tokenverifier's secureTransport) - as the Transport
// of an *http.Client - generalized here to also own the resiliency policy
// and the one-shot reauthentication retry.
package forgeauth

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pkg/errors"
	lock "github.com/viney-shih/go-lock"

	"github.com/cloudforge-platform/forge-authclient/config"
	"github.com/cloudforge-platform/forge-authclient/forgelog"
	"github.com/cloudforge-platform/forge-authclient/resiliency"
	"github.com/cloudforge-platform/forge-authclient/tokencache"
	"github.com/cloudforge-platform/forge-authclient/tokenfetch"
)

var logger = forgelog.Get("forgeauth")

// refreshLock serializes token refreshes across every AuthHandler in the
// process.
var refreshLock = lock.NewCASMutex()

// AuthHandler implements http.RoundTripper. One instance owns one token
// cache and one instance-default resiliency.Policy whose circuit breaker
// state is shared by every request that does not override the per-attempt
// timeout; the refresh-serializing mutex is shared by all instances.
type AuthHandler struct {
	cfg       *config.Config
	transport http.RoundTripper
	cache     *tokencache.Cache
	fetcher   *tokenfetch.Fetcher
	policy    *resiliency.Policy
	refresh   *lock.CASMutex

	inflight inflightTracker
	closed   atomic.Bool
}

// Option customizes New.
type Option func(*AuthHandler)

// WithTransport overrides the underlying http.RoundTripper that performs
// the actual network send. Defaults to http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(h *AuthHandler) { h.transport = rt }
}

// New builds an AuthHandler from cfg. The instance-default resiliency
// policy always uses resiliency.DefaultTimeout; a per-request Timeout
// option gets a separate Policy instead of changing this one.
func New(cfg *config.Config, opts ...Option) *AuthHandler {
	h := &AuthHandler{
		cfg:       cfg,
		transport: http.DefaultTransport,
		cache:     tokencache.New(),
		refresh:   refreshLock,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.policy = resiliency.New(resiliency.DefaultTimeout, h.transport)
	h.fetcher = tokenfetch.New(cfg, h.sendThroughInstancePolicy)
	return h
}

// sendThroughInstancePolicy is the Sender handed to the TokenFetcher, per
// spec.md §4.3 step 3: token acquisition shares the instance-default
// resiliency policy used for data calls, never a per-call custom one.
func (h *AuthHandler) sendThroughInstancePolicy(req *http.Request) (*http.Response, error) {
	return h.policy.RoundTrip(req)
}

// RoundTrip authenticates and sends req, per spec.md §4.5.
func (h *AuthHandler) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil || req.URL.String() == "" {
		return nil, &InvalidArgumentError{Message: "request URL is empty"}
	}
	if h.closed.Load() {
		return nil, &InvalidArgumentError{Message: "handler is closed"}
	}

	h.inflight.enter()
	defer h.inflight.leave()

	if req.Header.Get("X-Request-Id") == "" {
		req.Header.Set("X-Request-Id", requestID())
	}

	ctx := req.Context()
	opts := OptionsFromContext(ctx)

	// Step 1: select policy. A custom per-call timeout gets an independent,
	// freshly-built breaker scope, by design (spec.md §4.5 step 1) - only
	// the instance-default policy's breaker state is shared across this
	// handler's requests.
	policy := h.policy
	if opts.Timeout > 0 {
		policy = resiliency.New(opts.Timeout, h.transport)
	}

	// Step 2: auth pre-step.
	authManaged := req.Header.Get("Authorization") == "" && opts.Scope != ""
	if authManaged {
		if err := h.ensureToken(ctx, req, opts, false); err != nil {
			return nil, err
		}
	}

	send := func(r *http.Request) (*http.Response, error) {
		resp, err := policy.RoundTrip(r)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, &CircuitOpenError{Agent: opts.Agent, Scope: opts.Scope}
		}
		return resp, err
	}

	// Step 3: execute, with the one-shot auth-refresh wrapper around it.
	resp, err := send(req)
	if err != nil || !authManaged || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	logger.Debug().Str("request_id", req.Header.Get("X-Request-Id")).Msg("received 401, forcing token refresh")
	resp.Body.Close()
	if err := h.ensureToken(ctx, req, opts, true); err != nil {
		return nil, err
	}
	return send(req)
}

// ensureToken implements the compound tryGet/fetch/add action, serialized
// across the whole process by a single CASMutex (spec.md §5's "process-wide
// exclusive critical section"), and sets req's Authorization header.
func (h *AuthHandler) ensureToken(ctx context.Context, req *http.Request, opts RequestOptions, forceRefresh bool) error {
	cacheKey := tokencache.Key(opts.Agent, opts.Scope)

	if !h.refresh.TryLockWithContext(ctx) {
		return ctx.Err()
	}
	defer h.refresh.Unlock()

	token, found := "", false
	if !forceRefresh {
		token, found = h.cache.TryGet(cacheKey)
	}
	if !found {
		fetched, err := h.fetcher.Get2Legged(ctx, opts.Agent, opts.Scope)
		if err != nil {
			return err
		}
		h.cache.Add(cacheKey, fetched.Value, fetched.TTL)
		token = fetched.Value
	}

	req.Header.Set("Authorization", token)
	return nil
}

// Close marks h closed to new requests and waits for in-flight RoundTrip
// calls to finish, or for ctx to be done, whichever happens first.
func (h *AuthHandler) Close(ctx context.Context) error {
	h.closed.Store(true)
	return h.inflight.drain(ctx)
}
