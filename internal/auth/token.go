// ABOUTME: HS256 JWT minting and verification for the ephemera API
// ABOUTME: Tokens carry registered claims only; issuer, leeway, and clock are parser options

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// MinSecretLength is the minimum HS256 secret size in bytes.
	MinSecretLength = 32
	// Issuer is the iss claim on every token minted and accepted here.
	Issuer = "ephemera"
	// DefaultLeeway is the clock skew tolerated on exp and nbf.
	DefaultLeeway = 5 * time.Second
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = errors.New("jwt secret too short")
)

// TokenVerifier turns a bearer token into the subject it was minted for.
type TokenVerifier interface {
	Verify(tokenString string) (subject string, err error)
}

// VerifierOption configures a JWTVerifier.
type VerifierOption func(*JWTVerifier)

// WithLeeway sets the tolerated clock skew.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *JWTVerifier) { v.leeway = d }
}

// WithClock replaces time.Now for minting and expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *JWTVerifier) { v.now = now }
}

// JWTVerifier mints and checks tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewJWTVerifier returns a verifier for secret, which must be at least
// MinSecretLength bytes.
func NewJWTVerifier(secret []byte, opts ...VerifierOption) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrWeakSecret, MinSecretLength, len(secret))
	}

	v := &JWTVerifier{
		secret: secret,
		leeway: DefaultLeeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	return v, nil
}

func (v *JWTVerifier) key(*jwt.Token) (any, error) {
	return v.secret, nil
}

// Verify checks signature, issuer, and expiry, and returns the sub claim.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(tokenString, &claims, v.key)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "", fmt.Errorf("%w: %v", ErrMissingClaim, err)
	default:
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Generate mints a token for subject. A zero expiresIn leaves out exp, so
// the token never expires.
func (v *JWTVerifier) Generate(subject string, expiresIn time.Duration) (string, error) {
	now := v.now()
	claims := jwt.RegisteredClaims{
		Issuer:   Issuer,
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if expiresIn != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(expiresIn))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
