// Package provisioning drives the ephemeral-key encrypted handshake that
// bootstraps a long-term identity and session without the user typing
// credentials, polling the remote platform for a companion device's
// encrypted payload.
package provisioning

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/riftline/msgcore/internal/logger"
	"github.com/riftline/msgcore/internal/metrics"
	"github.com/riftline/msgcore/internal/store"
)

const (
	hkdfInfo       = "Mixin Provisioning Message"
	pollInterval   = time.Second
	pollTimeout    = 60 * time.Second
	envelopeVer    = 1
	registrationLo = 1
	registrationHi = 16381
)

// Client is the external HTTP collaborator provisioning talks to.
type Client interface {
	CreateProvisioning(ctx context.Context, deviceID string) (serverDeviceID string, err error)
	PollProvisioning(ctx context.Context, serverDeviceID string) (secret string, found bool, err error)
	VerifyProvisioning(ctx context.Context, req VerifyRequest) (*Account, error)
}

// VerifyRequest is the body for POST /provisionings/verify.
type VerifyRequest struct {
	Code           string `json:"code"`
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id"`
	SessionSecret  string `json:"session_secret"`
	Platform       string `json:"platform"`
	Versions       string `json:"versions"`
	Purpose        string `json:"purpose"`
	RegistrationID uint32 `json:"registration_id"`
}

// Account is the server's response to a successful verification.
type Account struct {
	Raw json.RawMessage
}

type provisioningBody struct {
	SessionID          string `json:"session_id"`
	UserID             string `json:"user_id"`
	IdentityKeyPrivate string `json:"identity_key_private"`
	ProvisioningCode   string `json:"provisioning_code"`
}

type provisioningEnvelope struct {
	PublicKey string `json:"public_key"`
	Body      string `json:"body"`
}

// DisplayURL is what Provision returns for the caller to show as a QR code.
func DisplayURL(deviceID string, ephemeralPublic [32]byte) string {
	return fmt.Sprintf("mixin://device/auth?id=%s&pub_key=%s",
		deviceID, url.QueryEscape(base64.StdEncoding.EncodeToString(ephemeralPublic[:])))
}

// Result is what Provision persists on success.
type Result struct {
	UserID         string
	SessionID      string
	PrivateSeed    []byte
	RegistrationID uint32
	Account        *Account
}

// Provision runs the full bootstrap: generate an ephemeral key, register,
// poll for the companion's encrypted payload, decrypt it, mint a fresh
// long-term identity, and verify with the server.
func Provision(ctx context.Context, client Client, log logger.Logger) (*Result, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	metrics.ProvisioningInitiated.WithLabelValues("secondary").Inc()
	start := time.Now()
	result, err := provision(ctx, client, log)
	if err != nil {
		metrics.ProvisioningCompleted.WithLabelValues("failure").Inc()
		metrics.ProvisioningFailed.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}
	metrics.ProvisioningCompleted.WithLabelValues("success").Inc()
	metrics.ProvisioningDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	return result, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timed out"):
		return "timeout"
	case strings.Contains(err.Error(), "mac mismatch"):
		return "invalid_mac"
	default:
		return "network"
	}
}

func provision(ctx context.Context, client Client, log logger.Logger) (*Result, error) {
	var ephPriv, ephPub [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, fmt.Errorf("provisioning: generate ephemeral key: %w", err)
	}
	curve25519.ScalarBaseMult(&ephPub, &ephPriv)

	serverDeviceID, err := client.CreateProvisioning(ctx, "rust")
	if err != nil {
		return nil, fmt.Errorf("provisioning: create: %w", err)
	}
	log.Info("provisioning: waiting for companion scan", logger.String("display_url", DisplayURL(serverDeviceID, ephPub)))

	pollStart := time.Now()
	body, err := poll(ctx, client, serverDeviceID)
	metrics.ProvisioningDuration.WithLabelValues("poll").Observe(time.Since(pollStart).Seconds())
	if err != nil {
		return nil, err
	}

	decodeStart := time.Now()
	plain, err := decryptEnvelope(body, ephPriv)
	metrics.ProvisioningDuration.WithLabelValues("decode").Observe(time.Since(decodeStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("provisioning: decrypt companion payload: %w", err)
	}

	var decoded provisioningBody
	if err := json.Unmarshal(plain, &decoded); err != nil {
		return nil, fmt.Errorf("provisioning: decode provisioning body: %w", err)
	}

	ephemeralStart := time.Now()
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("provisioning: generate identity seed: %w", err)
	}
	sessionPub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	metrics.ProvisioningDuration.WithLabelValues("ephemeral_key").Observe(time.Since(ephemeralStart).Seconds())

	registrationID := uint32(registrationLo + rand.N(registrationHi-registrationLo))

	account, err := client.VerifyProvisioning(ctx, VerifyRequest{
		Code:           decoded.ProvisioningCode,
		UserID:         decoded.UserID,
		SessionID:      decoded.SessionID,
		SessionSecret:  base64.StdEncoding.EncodeToString(sessionPub),
		Platform:       "desktop",
		Versions:       "1.0.0",
		Purpose:        "SESSION",
		RegistrationID: registrationID,
	})
	if err != nil {
		return nil, fmt.Errorf("provisioning: verify: %w", err)
	}

	return &Result{
		UserID:         decoded.UserID,
		SessionID:      decoded.SessionID,
		PrivateSeed:    seed,
		RegistrationID: registrationID,
		Account:        account,
	}, nil
}

// Persist writes the provisioning result to Auth and initializes the Signal
// Keystore's identity exactly once.
func Persist(ctx context.Context, db store.Store, res *Result) error {
	accountBytes, _ := json.Marshal(res.Account)
	if err := db.SaveAuth(ctx, &store.Auth{
		UserID:     res.UserID,
		SessionID:  res.SessionID,
		PrivateKey: res.PrivateSeed,
		Account:    accountBytes,
	}); err != nil {
		return fmt.Errorf("provisioning: save auth: %w", err)
	}

	signIdentity := ed25519.NewKeyFromSeed(res.PrivateSeed)
	if err := db.SaveLocalIdentity(ctx, &store.Identity{
		RegistrationID: res.RegistrationID,
		PublicKey:      []byte(signIdentity.Public().(ed25519.PublicKey)),
		PrivateKey:      res.PrivateSeed,
		Timestamp:      time.Now(),
	}); err != nil {
		return fmt.Errorf("provisioning: initialize keystore identity: %w", err)
	}
	return nil
}

func poll(ctx context.Context, client Client, serverDeviceID string) (*provisioningEnvelope, error) {
	deadline := time.Now().Add(pollTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		secret, found, err := client.PollProvisioning(ctx, serverDeviceID)
		if err != nil {
			return nil, fmt.Errorf("provisioning: poll: %w", err)
		}
		if found && secret != "" {
			raw, err := base64.StdEncoding.DecodeString(secret)
			if err != nil {
				return nil, fmt.Errorf("provisioning: decode secret: %w", err)
			}
			var env provisioningEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return nil, fmt.Errorf("provisioning: decode envelope: %w", err)
			}
			return &env, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("provisioning: timed out waiting for companion")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// decryptEnvelope implements the spec's `ver(1) | iv(16) | cipher | mac(32)`
// AES-256-CBC + HMAC-SHA256 envelope, keyed off HKDF(X25519(ephPriv, theirs)).
func decryptEnvelope(env *provisioningEnvelope, ephPriv [32]byte) ([]byte, error) {
	theirPubBytes, err := base64.StdEncoding.DecodeString(env.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode companion public key: %w", err)
	}
	if len(theirPubBytes) != 32 {
		return nil, fmt.Errorf("companion public key has wrong length")
	}
	var theirPub [32]byte
	copy(theirPub[:], theirPubBytes)

	ecdhStart := time.Now()
	shared, err := curve25519.X25519(ephPriv[:], theirPub[:])
	metrics.CryptoOperationDuration.WithLabelValues("ecdh", "x25519").Observe(time.Since(ecdhStart).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("ecdh").Inc()
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	metrics.CryptoOperations.WithLabelValues("ecdh", "x25519").Inc()

	kdf := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfo))
	okm := make([]byte, 64)
	if _, err := io.ReadFull(kdf, okm); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	encKey, macKey := okm[:32], okm[32:]

	body, err := base64.StdEncoding.DecodeString(env.Body)
	if err != nil {
		return nil, fmt.Errorf("decode envelope body: %w", err)
	}
	if len(body) < 1+16+32 {
		return nil, fmt.Errorf("envelope body too short")
	}
	if body[0] != envelopeVer {
		return nil, fmt.Errorf("unsupported envelope version %d", body[0])
	}

	iv := body[1:17]
	mac := body[len(body)-32:]
	cipherBytes := body[17 : len(body)-32]

	mac2 := hmac.New(sha256.New, macKey)
	mac2.Write(body[:len(body)-32])
	if !hmac.Equal(mac, mac2.Sum(nil)) {
		return nil, fmt.Errorf("mac mismatch")
	}

	aesStart := time.Now()
	block, err := aes.NewCipher(encKey)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, err
	}
	if len(cipherBytes)%block.BlockSize() != 0 {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, fmt.Errorf("ciphertext is not block-aligned")
	}
	plain := make([]byte, len(cipherBytes))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, cipherBytes)
	metrics.CryptoOperationDuration.WithLabelValues("decrypt", "aes-cbc").Observe(time.Since(aesStart).Seconds())
	metrics.CryptoOperations.WithLabelValues("decrypt", "aes-cbc").Inc()

	return pkcs7Unpad(plain)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("invalid pkcs7 padding")
	}
	if !bytes.Equal(data[len(data)-padLen:], bytesRepeat(byte(padLen), padLen)) {
		return nil, fmt.Errorf("invalid pkcs7 padding content")
	}
	return data[:len(data)-padLen], nil
}

func bytesRepeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
