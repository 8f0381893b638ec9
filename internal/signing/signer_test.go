package signing

import (
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed() []byte {
	s := make([]byte, 32)
	for i := range s {
		s[i] = byte(i)
	}
	return s
}

func TestSign_ProducesThreePartToken(t *testing.T) {
	s := NewSigner("app1", "session1", seed())

	tok, err := s.Sign("GET", "/me", nil)
	require.NoError(t, err)
	assert.Len(t, strings.Split(tok, "."), 3)
}

func TestSign_ClaimsBindMethodPathBody(t *testing.T) {
	s := NewSigner("app1", "session1", seed())

	tok, err := s.Sign("POST", "/conversations", []byte(`{"x":1}`))
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(tok, jwt.MapClaims{})
	require.NoError(t, err)

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "app1", claims["uid"])
	assert.Equal(t, "session1", claims["sid"])
	assert.Equal(t, Scope, claims["scp"])
	assert.NotEmpty(t, claims["sig"])
	assert.NotEmpty(t, claims["jti"])
}

func TestSign_DifferentBodyDifferentDigest(t *testing.T) {
	s := NewSigner("app1", "session1", seed())

	tok1, err := s.Sign("POST", "/x", []byte("a"))
	require.NoError(t, err)
	tok2, err := s.Sign("POST", "/x", []byte("b"))
	require.NoError(t, err)

	claims1, _, _ := jwt.NewParser().ParseUnverified(tok1, jwt.MapClaims{})
	claims2, _, _ := jwt.NewParser().ParseUnverified(tok2, jwt.MapClaims{})

	c1 := claims1.Claims.(jwt.MapClaims)
	c2 := claims2.Claims.(jwt.MapClaims)
	assert.NotEqual(t, c1["sig"], c2["sig"])
}
