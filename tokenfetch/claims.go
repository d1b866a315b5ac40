package tokenfetch

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// logDebugClaims makes a best-effort, unverified peek at accessToken's
// claims purely for debug logging. Many client-credentials access tokens
// are opaque, not JWTs - a parse failure is expected and silently
// swallowed, the same way the teacher's security/token claim accessors
// return a plain error rather than panicking on an unexpected shape.
func logDebugClaims(accessToken string) {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(accessToken, claims)
	if err != nil {
		logger.Debug().Msg("access token is not a parseable JWT, skipping claim debug log")
		return
	}

	event := logger.Debug()
	if sub, err := stringClaim(claims, "sub"); err == nil {
		event = event.Str("sub", sub)
	}
	if exp, err := numericDateClaim(claims, "exp"); err == nil {
		event = event.Time("exp", exp)
	}
	event.Msg("fetched access token claims")
}

func claimValue(claims jwt.MapClaims, name string) (any, error) {
	v, found := claims[name]
	if !found {
		return nil, fmt.Errorf("%s is missed", name)
	}
	return v, nil
}

func stringClaim(claims jwt.MapClaims, name string) (string, error) {
	v, err := claimValue(claims, name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is invalid, expected string, but got %T", name, v)
	}
	return s, nil
}

func numericDateClaim(claims jwt.MapClaims, name string) (time.Time, error) {
	v, err := claimValue(claims, name)
	if err != nil {
		return time.Time{}, err
	}
	seconds, ok := v.(float64)
	if !ok {
		return time.Time{}, fmt.Errorf("%s is invalid, expected float64, but got %T", name, v)
	}
	return time.Unix(int64(seconds), 0), nil
}
