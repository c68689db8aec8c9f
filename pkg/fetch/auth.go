package fetch

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// authorizationHeader builds the Authorization value for token.
// Personal access tokens use Basic auth with an empty user name. Tokens that parse
// as a JWT (directory-issued access tokens) are sent as Bearer tokens instead.
func authorizationHeader(token string, now time.Time) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("access token is required")
	}

	if exp, ok := jwtExpiry(token); ok {
		if !exp.IsZero() && now.After(exp) {
			return "", errors.New("access token has expired at " + exp.Format(time.RFC3339))
		}
		slog.Info("[AUTH] Using bearer token authentication", "expires", exp)
		return "Bearer " + token, nil
	}

	slog.Info("[AUTH] Using personal access token authentication")
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+token)), nil
}

// jwtExpiry reports whether token is a JWT and, if so, its expiry (zero when absent).
// The signature is not verified: the remote service does that.
func jwtExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, true
	}
	return exp.Time, true
}
