// Package signalengine drives the Double Ratchet / sender-key protocol
// (session establishment, encrypt/decrypt, prekey generation) on top of
// go.mau.fi/libsignal, backed by internal/signalstore.
package signalengine

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/libsignal/groups"
	"go.mau.fi/libsignal/keys/prekey"
	"go.mau.fi/libsignal/protocol"
	"go.mau.fi/libsignal/serialize"
	"go.mau.fi/libsignal/session"
	"go.mau.fi/libsignal/util/keyhelper"

	"github.com/riftline/msgcore/internal/compose"
	"github.com/riftline/msgcore/internal/metrics"
	"github.com/riftline/msgcore/internal/signalstore"
)

// CategorySignalKey is the sentinel category carrying a sender-key
// distribution message rather than user content.
const CategorySignalKey = "SIGNAL_KEY"

// Serializer is the wire (de)serializer used throughout the engine.
var Serializer = serialize.NewJSONSerializer()

// DeviceID derives a deterministic device id from an optional session UUID,
// yielding 1 when absent. Every component uses this function so peers agree.
func DeviceID(sessionID *uuid.UUID) uint32 {
	if sessionID == nil {
		return 1
	}
	b, _ := sessionID.MarshalBinary()
	var h uint32 = 2166136261 // FNV-1a offset basis
	for _, c := range b {
		h ^= uint32(c)
		h *= 16777619
	}
	if h == 0 {
		return 1
	}
	return h
}

// Engine wires the Signal Engine's operations to a keystore.
type Engine struct {
	store *signalstore.Store
}

// New builds an Engine over the given keystore.
func New(store *signalstore.Store) *Engine {
	return &Engine{store: store}
}

func address(senderID string, deviceID uint32) *protocol.SignalAddress {
	return protocol.NewSignalAddress(senderID, deviceID)
}

// Decrypt implements the spec's decrypt contract for an inbound ciphertext.
// When category is CategorySignalKey the Whisper/PreKey plaintext is further
// interpreted as a SenderKeyDistribution message for groupID and ingested.
func (e *Engine) Decrypt(ctx context.Context, groupID, senderID string, keyType compose.KeyType, cipher []byte, category string, sessionID *uuid.UUID) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.SessionDuration.WithLabelValues("decrypt").Observe(time.Since(start).Seconds())
	}()
	metrics.SessionMessageSize.WithLabelValues("inbound").Observe(float64(len(cipher)))

	deviceID := DeviceID(sessionID)
	addr := address(senderID, deviceID)

	switch keyType {
	case compose.KeyTypeWhisper, compose.KeyTypePreKey:
		plaintext, err := e.decryptPeerToPeer(ctx, addr, keyType, cipher)
		if err != nil {
			return nil, err
		}
		if category == CategorySignalKey {
			if err := e.ingestSenderKeyDistribution(ctx, groupID, addr, plaintext); err != nil {
				return nil, fmt.Errorf("signalengine: ingest sender-key distribution: %w", err)
			}
		}
		return plaintext, nil

	case compose.KeyTypeSenderKey:
		if category == CategorySignalKey {
			return nil, fmt.Errorf("signalengine: SenderKey ciphertext under SIGNAL_KEY category")
		}
		return e.decryptGroup(ctx, groupID, addr, cipher)

	case compose.KeyTypeSenderKeyDistribution:
		return nil, fmt.Errorf("signalengine: bare SenderKeyDistribution ciphertext is not a decryptable message")

	default:
		return nil, fmt.Errorf("signalengine: unknown key type %d", keyType)
	}
}

func (e *Engine) decryptPeerToPeer(ctx context.Context, addr *protocol.SignalAddress, keyType compose.KeyType, cipher []byte) ([]byte, error) {
	cipherSess := session.NewCipher(session.NewBuilderFromSignal(e.store, addr, Serializer), addr)

	switch keyType {
	case compose.KeyTypePreKey:
		msg, err := protocol.NewPreKeySignalMessageFromBytes(cipher, Serializer.PreKeySignal, Serializer.SignalMessage)
		if err != nil {
			return nil, fmt.Errorf("signalengine: decode prekey message: %w", err)
		}
		return cipherSess.DecryptMessage(ctx, msg)
	default:
		msg, err := protocol.NewSignalMessageFromBytes(cipher, Serializer.SignalMessage)
		if err != nil {
			return nil, fmt.Errorf("signalengine: decode whisper message: %w", err)
		}
		return cipherSess.Decrypt(ctx, msg)
	}
}

func (e *Engine) decryptGroup(ctx context.Context, groupID string, addr *protocol.SignalAddress, cipher []byte) ([]byte, error) {
	senderKeyName := protocol.NewSenderKeyName(groupID, addr)
	groupCipher := groups.NewGroupCipher(groups.NewGroupSessionBuilder(e.store, Serializer), senderKeyName, e.store)

	msg, err := protocol.NewSenderKeyMessageFromBytes(cipher, Serializer.SenderKeyMessage)
	if err != nil {
		return nil, fmt.Errorf("signalengine: decode sender-key message: %w", err)
	}
	return groupCipher.Decrypt(ctx, msg)
}

func (e *Engine) ingestSenderKeyDistribution(ctx context.Context, groupID string, addr *protocol.SignalAddress, plaintext []byte) error {
	senderKeyName := protocol.NewSenderKeyName(groupID, addr)
	builder := groups.NewGroupSessionBuilder(e.store, Serializer)

	msg, err := protocol.NewSenderKeyDistributionMessageFromBytes(plaintext, Serializer.SenderKeyDistribution)
	if err != nil {
		return err
	}
	return builder.Process(ctx, senderKeyName, msg)
}

// ProcessSession runs X3DH-equivalent session establishment from a prekey
// bundle, deleting and retrying once on UntrustedIdentity.
func (e *Engine) ProcessSession(ctx context.Context, recipientID string, sessionID *uuid.UUID, bundle *prekey.Bundle) error {
	start := time.Now()
	defer func() {
		metrics.SessionDuration.WithLabelValues("process_session").Observe(time.Since(start).Seconds())
	}()

	deviceID := DeviceID(sessionID)
	addr := address(recipientID, deviceID)
	builder := session.NewBuilderFromSignal(e.store, addr, Serializer)

	err := builder.ProcessBundle(ctx, bundle)
	if err == nil {
		metrics.SessionsCreated.WithLabelValues("success").Inc()
		metrics.SessionsActive.Inc()
		return nil
	}
	if !isUntrustedIdentity(err) {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return fmt.Errorf("signalengine: process session: %w", err)
	}

	if derr := e.store.DeleteSession(ctx, addr); derr != nil {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return fmt.Errorf("signalengine: delete stale identity session: %w", derr)
	}
	if err := builder.ProcessBundle(ctx, bundle); err != nil {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return fmt.Errorf("signalengine: process session retry failed: %w", err)
	}
	metrics.SessionsCreated.WithLabelValues("success").Inc()
	metrics.SessionsActive.Inc()
	return nil
}

func isUntrustedIdentity(err error) bool {
	return err != nil && (err.Error() == "untrusted identity exception" || containsUntrusted(err))
}

func containsUntrusted(err error) bool {
	const needle = "untrusted"
	s := err.Error()
	for i := 0; i+len(needle) <= len(s); i++ {
		if equalFold(s[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// EncryptSenderKeyResult is the outcome of EncryptSenderKey.
type EncryptSenderKeyResult struct {
	Encoded string
	OK      bool
}

// EncryptSenderKey creates a sender-key distribution message for
// (conversationID, recipientID:deviceID) and encrypts it peer-to-peer,
// wrapping the ciphertext with the Compose-Message codec.
func (e *Engine) EncryptSenderKey(ctx context.Context, conversationID, recipientID string, deviceID uint32) (EncryptSenderKeyResult, error) {
	start := time.Now()
	defer func() {
		metrics.SessionDuration.WithLabelValues("encrypt_sender_key").Observe(time.Since(start).Seconds())
	}()

	localAddr := address(recipientID, deviceID)
	senderKeyName := protocol.NewSenderKeyName(conversationID, localAddr)
	groupBuilder := groups.NewGroupSessionBuilder(e.store, Serializer)

	distribution, err := groupBuilder.Create(ctx, senderKeyName)
	if err != nil {
		return EncryptSenderKeyResult{}, fmt.Errorf("signalengine: create sender-key distribution: %w", err)
	}

	cipherSess := session.NewCipher(session.NewBuilderFromSignal(e.store, localAddr, Serializer), localAddr)
	ciphertext, err := cipherSess.Encrypt(ctx, distribution.Serialize())
	if err != nil {
		if isUntrustedIdentity(err) {
			_ = e.store.DeleteSession(ctx, localAddr)
			return EncryptSenderKeyResult{}, nil
		}
		return EncryptSenderKeyResult{}, fmt.Errorf("signalengine: encrypt sender-key distribution: %w", err)
	}

	keyType := compose.KeyTypeWhisper
	if ciphertext.MessageType() == protocol.PREKEY_TYPE {
		keyType = compose.KeyTypePreKey
	}

	serialized := ciphertext.Serialize()
	metrics.SessionMessageSize.WithLabelValues("outbound").Observe(float64(len(serialized)))

	encoded, err := compose.Encode(&compose.Message{KeyType: keyType, Cipher: serialized})
	if err != nil {
		return EncryptSenderKeyResult{}, err
	}
	return EncryptSenderKeyResult{Encoded: encoded, OK: true}, nil
}

// GenerateKeysResult is the base64-encoded output of GenerateKeys.
type GenerateKeysResult struct {
	IdentityKey   string
	SignedPreKey  SignedPreKeyOut
	OneTimeKeys   []OneTimePreKeyOut
}

// SignedPreKeyOut is a base64-encoded signed prekey bundle.
type SignedPreKeyOut struct {
	KeyID     uint32
	PublicKey string
	Signature string
}

// OneTimePreKeyOut is a base64-encoded one-time prekey.
type OneTimePreKeyOut struct {
	KeyID     uint32
	PublicKey string
}

// GenerateKeys mints a fresh prekey batch and one signed prekey, persisting
// both and advancing the keystore's counters.
func (e *Engine) GenerateKeys(ctx context.Context) (*GenerateKeysResult, error) {
	result, err := e.generateKeys(ctx)
	if err != nil {
		metrics.SignalKeyRefreshes.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.SignalKeyRefreshes.WithLabelValues("success").Inc()
	return result, nil
}

func (e *Engine) generateKeys(ctx context.Context) (*GenerateKeysResult, error) {
	identityPair, err := e.store.GetIdentityKeyPair(ctx)
	if err != nil {
		return nil, fmt.Errorf("signalengine: local identity not initialized: %w", err)
	}

	startID, err := e.store.NextPreKeyID(ctx)
	if err != nil {
		return nil, err
	}

	oneTimeKeys, err := keyhelper.GeneratePreKeys(int(startID), signalstore.PreKeyBatchSize, Serializer.PreKey)
	if err != nil {
		return nil, fmt.Errorf("signalengine: generate prekeys: %w", err)
	}
	out := make([]OneTimePreKeyOut, 0, len(oneTimeKeys))
	for _, pk := range oneTimeKeys {
		if err := e.store.StorePreKey(ctx, pk.ID().Value, pk); err != nil {
			return nil, err
		}
		out = append(out, OneTimePreKeyOut{
			KeyID:     pk.ID().Value,
			PublicKey: base64.StdEncoding.EncodeToString(pk.KeyPair().PublicKey().Serialize()),
		})
	}
	if err := e.store.AdvancePreKeyID(ctx); err != nil {
		return nil, err
	}

	signedID, err := e.store.NextSignedPreKeyID(ctx)
	if err != nil {
		return nil, err
	}
	signedKey, err := keyhelper.GenerateSignedPreKey(identityPair, signedID, Serializer.SignedPreKey)
	if err != nil {
		return nil, fmt.Errorf("signalengine: generate signed prekey: %w", err)
	}
	if err := e.store.StoreSignedPreKey(ctx, signedKey.ID(), signedKey); err != nil {
		return nil, err
	}
	if err := e.store.AdvanceSignedPreKeyID(ctx); err != nil {
		return nil, err
	}

	return &GenerateKeysResult{
		IdentityKey: base64.StdEncoding.EncodeToString(identityPair.PublicKey().PublicKey().Serialize()),
		SignedPreKey: SignedPreKeyOut{
			KeyID:     signedKey.ID(),
			PublicKey: base64.StdEncoding.EncodeToString(signedKey.KeyPair().PublicKey().Serialize()),
			Signature: base64.StdEncoding.EncodeToString(signedKey.Signature()),
		},
		OneTimeKeys: out,
	}, nil
}

