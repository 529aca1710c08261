// Package identity issues and verifies the admin tokens that guard the
// operator endpoints. Voters never hold a JWT; their only credential is the
// opaque single-use ballot token.
package identity

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAdmin = "admin"
	roleAdmin      = "admin"
)

// ErrBadSecret is returned by Exchange when the presented secret does not match.
var ErrBadSecret = errors.New("invalid admin secret")

// AdminClaims are the JWT claims of an operator token.
type AdminClaims struct {
	jwt.RegisteredClaims
	Type string `json:"type"`
	Role string `json:"role"`
}

// AdminTokenIssuer signs HS256 admin tokens. Tokens are issued only in
// exchange for the static admin secret.
type AdminTokenIssuer struct {
	key    []byte
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewAdminTokenIssuer creates an AdminTokenIssuer.
//
//	key    : HMAC signing key.
//	secret : the admin secret exchanged for tokens; empty disables Exchange.
//	issuer : the "iss" claim value.
//	ttl    : token lifetime (default: 8 hours).
func NewAdminTokenIssuer(key []byte, secret, issuer string, ttl time.Duration) *AdminTokenIssuer {
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	return &AdminTokenIssuer{
		key:    key,
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
	}
}

// Enabled reports whether an admin secret is configured.
func (a *AdminTokenIssuer) Enabled() bool {
	return len(a.secret) > 0 && len(a.key) > 0
}

// Exchange checks secret in constant time and returns a fresh admin token.
func (a *AdminTokenIssuer) Exchange(secret string) (string, time.Time, error) {
	if !a.Enabled() || subtle.ConstantTimeCompare(a.secret, []byte(secret)) != 1 {
		return "", time.Time{}, ErrBadSecret
	}
	return a.Issue()
}

// Issue creates a signed admin token and returns it with its expiry.
func (a *AdminTokenIssuer) Issue() (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(a.ttl)
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   roleAdmin,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Type: tokenTypeAdmin,
		Role: roleAdmin,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates an admin token, returning its claims.
func (a *AdminTokenIssuer) Verify(tokenStr string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&AdminClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return a.key, nil
		},
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify admin token: %w", err)
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid admin token claims")
	}
	if claims.Type != tokenTypeAdmin {
		return nil, fmt.Errorf("not an admin token")
	}
	return claims, nil
}
