package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpiry is assumed when the access token's expiry claim cannot be
// decoded. The session will proactively refresh well before this elapses.
const DefaultExpiry = time.Hour

// Credential is the access/refresh token pair for the current session.
// A Credential is either fully populated or absent; partial pairs are never
// persisted.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Identity is the authenticated user as reported by the identity service.
// Roles are opaque strings to this package.
type Identity struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// NewCredential builds a Credential from a freshly issued token pair.
// ExpiresAt is derived from the access token's exp claim.
func NewCredential(accessToken, refreshToken string) Credential {
	return Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    ExpiryFromToken(accessToken),
	}
}

// ExpiryFromToken extracts the exp claim from a JWT access token without
// verifying its signature (the client has no signing key; expiry is only a
// scheduling hint). Undecodable tokens get a default expiry of now+1h
// instead of failing the caller.
func ExpiryFromToken(accessToken string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Now().Add(DefaultExpiry)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Now().Add(DefaultExpiry)
	}
	return exp.Time
}

// Valid reports whether the credential is fully populated.
func (c Credential) Valid() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Expired reports whether the access token is past its expiry.
func (c Credential) Expired() bool {
	return !time.Now().Before(c.ExpiresAt)
}

// TimeUntilExpiry returns the remaining lifetime of the access token.
// Negative when already expired.
func (c Credential) TimeUntilExpiry() time.Duration {
	return time.Until(c.ExpiresAt)
}
