package auth

import (
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestNewVerifierRejectsEmptySecret(t *testing.T) {
	_, err := NewVerifier(nil)
	assert.Error(t, err)
}

func TestValidateToken(t *testing.T) {
	v, err := NewVerifier(secret)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		token, err := Generate(secret, "user-42", time.Minute)
		require.NoError(t, err)

		sub, err := v.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "user-42", sub)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := v.ValidateToken("not.a.jwt")
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "invalid token", authErr.Reason)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := Generate([]byte("other-secret"), "user-42", time.Minute)
		require.NoError(t, err)

		_, err = v.ValidateToken(token)
		var authErr *AuthError
		assert.ErrorAs(t, err, &authErr)
	})

	t.Run("expired token", func(t *testing.T) {
		claims := jwtlib.MapClaims{
			"sub": "user-42",
			"exp": time.Now().Add(-time.Minute).Unix(),
		}
		token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)

		_, err = v.ValidateToken(token)
		assert.ErrorIs(t, err, jwtlib.ErrTokenExpired)
	})

	t.Run("no expiry claim", func(t *testing.T) {
		claims := jwtlib.MapClaims{"sub": "user-42"}
		token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)

		_, err = v.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		claims := jwtlib.MapClaims{
			"exp": time.Now().Add(time.Minute).Unix(),
		}
		token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)

		_, err = v.ValidateToken(token)
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "token missing subject", authErr.Reason)
	})

	t.Run("unsigned algorithm rejected", func(t *testing.T) {
		claims := jwtlib.MapClaims{
			"sub": "user-42",
			"exp": time.Now().Add(time.Minute).Unix(),
		}
		token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, claims).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = v.ValidateToken(token)
		assert.Error(t, err)
	})
}

func TestAuthErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &AuthError{Reason: "invalid token", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "invalid token")

	bare := &AuthError{Reason: "token missing subject"}
	assert.Equal(t, "auth: token missing subject", bare.Error())
}
