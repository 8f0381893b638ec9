// Package signing produces a bearer token per outbound request: an EdDSA
// JWT binding the HTTP method, path, and request body digest to a session.
package signing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/riftline/msgcore/internal/metrics"
)

// TokenTTL is the lifetime of an issued token.
const TokenTTL = 90 * 24 * time.Hour

// Scope is the fixed access scope carried by every token.
const Scope = "FULL"

// Signer issues request-bound bearer tokens for one logged-in identity.
type Signer struct {
	appID     string
	sessionID string
	key       ed25519.PrivateKey
}

// NewSigner derives an Ed25519 signer from a 32-byte seed.
func NewSigner(appID, sessionID string, seed []byte) *Signer {
	return &Signer{
		appID:     appID,
		sessionID: sessionID,
		key:       ed25519.NewKeyFromSeed(seed),
	}
}

// Sign produces header.payload.signature for the given request.
func (s *Signer) Sign(method, path string, body []byte) (string, error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("sign", "eddsa").Observe(time.Since(start).Seconds())
	}()

	digest := sha256.Sum256(append([]byte(method+path), body...))

	now := time.Now()
	claims := jwt.MapClaims{
		"uid": s.appID,
		"sid": s.sessionID,
		"iat": now.Unix(),
		"exp": now.Add(TokenTTL).Unix(),
		"jti": uuid.New().String(),
		"sig": hex.EncodeToString(digest[:]),
		"scp": Scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("sign").Inc()
		return "", err
	}
	metrics.CryptoOperations.WithLabelValues("sign", "eddsa").Inc()
	return signed, nil
}
