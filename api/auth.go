package api

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("malformed authorization header")
	errInvalidToken         = errors.New("invalid token")
)

// Auth validates bearer tokens. A single-user deployment signs its own HS256
// tokens with a shared secret; with no secret configured every request is
// accepted as the sole local user.
type Auth struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuth creates a token validator. An empty secret disables authentication.
func NewAuth(secret string) *Auth {
	a := &Auth{}
	if secret != "" {
		a.secret = []byte(secret)
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	}
	return a
}

// Enabled reports whether requests must carry a token.
func (a *Auth) Enabled() bool {
	return a.secret != nil
}

// UserIDFromAuthHeader extracts the subject from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if !a.Enabled() {
		return "local", nil
	}
	if h == "" {
		return "", errMissingAuthorization
	}
	token, ok := bearerToken(h)
	if !ok {
		return "", errBadAuthorization
	}

	parsed, err := a.parser.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", errInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errInvalidToken
	}
	return sub, nil
}

func bearerToken(h string) (string, bool) {
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}
