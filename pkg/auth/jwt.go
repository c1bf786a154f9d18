// Package auth implements the identity-service collaborator boundary:
// access tokens are HMAC-signed JWTs issued by the identity service and
// validated locally against a shared secret.
package auth

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// AuthError reports a rejected token. The gateway closes the socket with
// an auth-rejection code; the client must obtain a new token.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

var allowedMethods = []string{"HS256", "HS384", "HS512"}

// Verifier validates tokens signed with an HMAC secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given shared secret.
func NewVerifier(secret []byte) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}
	return &Verifier{secret: secret}, nil
}

// ValidateToken checks signature and standard claims and returns the
// subject user id. Every failure is an *AuthError.
func (v *Verifier) ValidateToken(token string) (string, error) {
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		return v.secret, nil
	}, jwtlib.WithValidMethods(allowedMethods), jwtlib.WithExpirationRequired())
	if err != nil {
		return "", &AuthError{Reason: "invalid token", Err: err}
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", &AuthError{Reason: "token missing subject"}
	}
	return sub, nil
}

// Generate signs a token for the given user. The identity service is the
// real issuer; this exists for tests and the load tester.
func Generate(secret []byte, userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	now := time.Now()
	claims := jwtlib.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
}
