package authz

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/lease-billing/billing"
)

// Tokens issues and verifies HS256 bearer tokens whose subject is the
// landlord id.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration

	Now func() time.Time
}

func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl, Now: time.Now}
}

// Issue creates a signed token for the landlord.
func (t *Tokens) Issue(landlord billing.LandlordID) (string, error) {
	now := t.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(landlord),
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the token and returns its caller. Every failure wraps
// ErrUnauthenticated.
func (t *Tokens) Parse(token string) (Caller, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.Now),
	)
	if err != nil {
		return Caller{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return Caller{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return Caller{LandlordID: billing.LandlordID(claims.Subject)}, nil
}
