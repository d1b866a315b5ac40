// Package tokenfetch obtains a fresh two-legged (client-credentials)
// bearer token from the Forge OAuth token endpoint.
package tokenfetch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cloudforge-platform/forge-authclient/config"
	"github.com/cloudforge-platform/forge-authclient/forgelog"
	"github.com/cloudforge-platform/forge-authclient/httpvalidate"
)

var logger = forgelog.Get("tokenfetch")

// InvalidConfigurationError is raised when the credentials required to
// fetch a token for an agent are missing.
type InvalidConfigurationError struct {
	Field string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: missing %s", e.Field)
}

// Token is a fetched bearer token, already carrying its scheme prefix
// (e.g. "Bearer abc123"), and the duration it remains valid for.
type Token struct {
	Value string
	TTL   time.Duration
}

// Sender performs a single HTTP round trip. The Fetcher is always handed
// the instance-default resiliency.Policy's round trip by forgeauth, per
// spec.md §4.3 step 3: token acquisition shares the data-call policy.
type Sender func(*http.Request) (*http.Response, error)

// Fetcher obtains tokens from the Forge OAuth token endpoint.
type Fetcher struct {
	cfg  *config.Config
	send Sender
}

// New returns a Fetcher that resolves credentials from cfg and sends
// requests through send.
func New(cfg *config.Config, send Sender) *Fetcher {
	return &Fetcher{cfg: cfg, send: send}
}

type tokenResponse struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Get2Legged fetches a fresh token for (agent, scope) by POSTing a
// client_credentials grant to the configured authentication address.
// Failures propagate to the caller, wrapped with context by errors.Wrap
// except for InvalidConfigurationError, which is returned as is - there is
// no retry beyond whatever the underlying Sender already applies.
func (f *Fetcher) Get2Legged(ctx context.Context, agent, scope string) (Token, error) {
	clientID, clientSecret, missingField := f.cfg.Credentials(agent)
	if missingField != "" {
		return Token{}, &InvalidConfigurationError{Field: missingField}
	}

	req, err := f.buildRequest(ctx, clientID, clientSecret, scope)
	if err != nil {
		return Token{}, errors.Wrap(err, "failed to build token request")
	}

	resp, err := f.send(req)
	if err != nil {
		return Token{}, errors.Wrap(err, "failed to send token request")
	}
	resp, err = httpvalidate.Validate(resp)
	if err != nil {
		return Token{}, errors.Wrap(err, "token endpoint returned an error")
	}
	defer resp.Body.Close()

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Token{}, errors.Wrap(err, "failed to decode token response")
	}
	if parsed.TokenType == "" || parsed.AccessToken == "" {
		return Token{}, errors.New("token response missing token_type or access_token")
	}

	logDebugClaims(parsed.AccessToken)

	return Token{
		Value: parsed.TokenType + " " + parsed.AccessToken,
		TTL:   time.Duration(parsed.ExpiresIn) * time.Second,
	}, nil
}

func (f *Fetcher) buildRequest(ctx context.Context, clientID, clientSecret, scope string) (*http.Request, error) {
	body := url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {scope},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.AuthenticationAddress, strings.NewReader(body.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+basicAuth(clientID, clientSecret))
	return req, nil
}

func basicAuth(clientID, clientSecret string) string {
	return base64.StdEncoding.EncodeToString([]byte(clientID + ":" + clientSecret))
}
