package backend

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenRefreshMargin renews the access token shortly before it expires
const tokenRefreshMargin = 30 * time.Second

// tokenExpiry reads the exp claim of a JWT access token. The backend
// verifies the signature; here it only decides when to refresh. Opaque
// tokens have no known expiry.
func tokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := new(jwt.Parser).ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// tokenExpiring reports whether the held token must be renewed
func (c *Client) tokenExpiring() bool {
	if c.tokenExpiresAt.IsZero() {
		return false
	}
	return !c.now().Add(tokenRefreshMargin).Before(c.tokenExpiresAt)
}
