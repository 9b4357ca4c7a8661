package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mina-studio/internal/domain"
)

// Identity is what the client learns about its account from the API token.
type Identity struct {
	PassID    string
	Subject   string
	ExpiresAt time.Time // zero when the token carries no expiry
}

// Expired reports whether the token expiry has passed at now.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

var passClaims = []string{"passId", "pass_id", "mina_pass_id"}

// ParseIdentity reads the pass identity from a bearer token. The signature
// is not checked: the token is ours and the backend verifies it on every
// call. Opaque (non-JWT) tokens yield domain.ErrMissingIdentity.
func ParseIdentity(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, domain.ErrMissingIdentity
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", domain.ErrMissingIdentity, err)
	}

	var id Identity
	for _, k := range passClaims {
		if s, ok := claims[k].(string); ok && strings.TrimSpace(s) != "" {
			id.PassID = strings.TrimSpace(s)
			break
		}
	}
	id.Subject, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	if id.PassID == "" {
		return id, domain.ErrMissingIdentity
	}
	return id, nil
}

// ResolvePassID prefers an explicitly configured pass id and falls back to
// the one embedded in the token.
func ResolvePassID(configured, token string) (string, error) {
	if p := strings.TrimSpace(configured); p != "" {
		return p, nil
	}
	id, err := ParseIdentity(token)
	if err != nil {
		return "", err
	}
	return id.PassID, nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if len(hdr) > 7 && strings.EqualFold(hdr[:7], "bearer ") {
		return strings.TrimSpace(hdr[7:])
	}
	return ""
}

var ErrUnauthorized = errors.New("unauthorized")

// CheckAPIKey compares the request bearer token with key in constant time.
// An empty key disables the check.
func CheckAPIKey(r *http.Request, key string) error {
	if key == "" {
		return nil
	}
	got := BearerToken(r)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
