package forgeauth

import (
	"context"
	"time"
)

type optionsKey struct{}

// RequestOptions carries the per-request choices spec.md models as fields on
// the outgoing request: which agent's credentials to authenticate with,
// which OAuth scope to request a token for, and an optional override for
// the per-attempt timeout the resiliency policy applies to this request
// only. *http.Request has no extensible options bag, so these travel on the
// request's context instead - the idiomatic Go substitute.
type RequestOptions struct {
	Agent   string
	Scope   string
	Timeout time.Duration
}

// WithOptions returns a context carrying opts, for use as the context of an
// *http.Request passed through an AuthHandler.
func WithOptions(ctx context.Context, opts RequestOptions) context.Context {
	return context.WithValue(ctx, optionsKey{}, opts)
}

// OptionsFromContext returns the RequestOptions stored by WithOptions, or
// the zero value (default agent, empty scope, no timeout override) if none
// was set.
func OptionsFromContext(ctx context.Context) RequestOptions {
	opts, ok := ctx.Value(optionsKey{}).(RequestOptions)
	if !ok {
		return RequestOptions{}
	}
	return opts
}
