// Package signalstore adapts internal/store's persistence contracts to
// go.mau.fi/libsignal's state/store.SignalProtocol interface, so the Signal
// Engine can plug in our durable rows directly. It also owns the in-process
// prekey/signed-prekey counter cache, write-through to internal/store.
package signalstore

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"

	"go.mau.fi/libsignal/ecc"
	"go.mau.fi/libsignal/keys/identity"
	"go.mau.fi/libsignal/protocol"
	"go.mau.fi/libsignal/serialize"
	"go.mau.fi/libsignal/state/record"

	"github.com/riftline/msgcore/internal/store"
)

// PreKeyBatchSize is how many one-time prekeys are minted per generation.
const PreKeyBatchSize = 700

// prekeyIDModulus bounds prekey_id and signed_prekey_id to [0, 2^24).
const prekeyIDModulus = 1 << 24

// Store is the libsignal-facing adapter over internal/store.
type Store struct {
	db   store.Store
	ser  *serialize.Serializer
	addr string // local address, "-1"

	mu       sync.Mutex
	counters *store.CryptoCounters
}

// New builds a Store over db using the given wire serializer.
func New(db store.Store, ser *serialize.Serializer) *Store {
	return &Store{db: db, ser: ser, addr: "-1"}
}

func (s *Store) warmCounters(ctx context.Context) (*store.CryptoCounters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counters != nil {
		return s.counters, nil
	}

	c, err := s.db.GetCounters(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = &store.CryptoCounters{
			NextPreKeyID:       randomID(),
			NextSignedPreKeyID: randomID(),
		}
		if err := s.db.SaveCounters(ctx, c); err != nil {
			return nil, err
		}
	}
	s.counters = c
	return c, nil
}

func randomID() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:]) % prekeyIDModulus
}

// NextPreKeyID returns the counter's current next-prekey-id.
func (s *Store) NextPreKeyID(ctx context.Context) (uint32, error) {
	c, err := s.warmCounters(ctx)
	if err != nil {
		return 0, err
	}
	return c.NextPreKeyID, nil
}

// AdvancePreKeyID advances the counter by PreKeyBatchSize+1, write-through.
func (s *Store) AdvancePreKeyID(ctx context.Context) error {
	s.mu.Lock()
	c := s.counters
	s.mu.Unlock()
	if c == nil {
		if _, err := s.warmCounters(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.counters.NextPreKeyID = (s.counters.NextPreKeyID + PreKeyBatchSize + 1) % prekeyIDModulus
	snapshot := *s.counters
	s.mu.Unlock()

	return s.db.SaveCounters(ctx, &snapshot)
}

// NextSignedPreKeyID returns the counter's current next-signed-prekey-id;
// AdvanceSignedPreKeyID advances it.
func (s *Store) NextSignedPreKeyID(ctx context.Context) (uint32, error) {
	c, err := s.warmCounters(ctx)
	if err != nil {
		return 0, err
	}
	return c.NextSignedPreKeyID, nil
}

// AdvanceSignedPreKeyID bumps the signed-prekey counter by one.
func (s *Store) AdvanceSignedPreKeyID(ctx context.Context) error {
	if _, err := s.warmCounters(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.counters.NextSignedPreKeyID = (s.counters.NextSignedPreKeyID + 1) % prekeyIDModulus
	snapshot := *s.counters
	s.mu.Unlock()
	return s.db.SaveCounters(ctx, &snapshot)
}

// SetHasPushSignalKeys write-through updates the push flag.
func (s *Store) SetHasPushSignalKeys(ctx context.Context, v bool) error {
	if _, err := s.warmCounters(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.counters.HasPushSignalKeys = v
	snapshot := *s.counters
	s.mu.Unlock()
	return s.db.SaveCounters(ctx, &snapshot)
}

// HasPushSignalKeys reports the current push flag.
func (s *Store) HasPushSignalKeys(ctx context.Context) (bool, error) {
	c, err := s.warmCounters(ctx)
	if err != nil {
		return false, err
	}
	return c.HasPushSignalKeys, nil
}

// --- IdentityKeyStore ---

// GetIdentityKeyPair returns the local identity keypair; fails if uninitialized.
func (s *Store) GetIdentityKeyPair(ctx context.Context) (*identity.KeyPair, error) {
	id, err := s.db.GetLocalIdentity(ctx)
	if err != nil {
		return nil, err
	}
	pub := identity.NewKey(ecc.NewDjbECPublicKey([32]byte(padTo32(id.PublicKey))))
	priv := ecc.NewDjbECPrivateKey([32]byte(padTo32(id.PrivateKey)))
	return identity.NewKeyPair(pub, priv), nil
}

func padTo32(b []byte) []byte {
	out := make([]byte, 32)
	copy(out, b)
	return out
}

// GetLocalRegistrationID returns the local registration id.
func (s *Store) GetLocalRegistrationID(ctx context.Context) (uint32, error) {
	id, err := s.db.GetLocalIdentity(ctx)
	if err != nil {
		return 0, err
	}
	return id.RegistrationID, nil
}

// SaveIdentity stores a remote identity and reports whether it changed.
func (s *Store) SaveIdentity(ctx context.Context, address *protocol.SignalAddress, key *identity.Key) (bool, error) {
	return s.db.SaveIdentity(ctx, address.String(), &store.Identity{
		Address:   address.String(),
		PublicKey: key.PublicKey().Serialize(),
	})
}

// IsTrustedIdentity implements the spec's TOFU trust rule: on receive
// direction it always trusts; on send it requires an exact stored match.
func (s *Store) IsTrustedIdentity(ctx context.Context, address *protocol.SignalAddress, key *identity.Key, direction Direction) (bool, error) {
	if direction == DirectionReceiving {
		return true, nil
	}
	stored, err := s.db.GetIdentity(ctx, address.String())
	if err != nil {
		return false, nil // absent => not trusted
	}
	return string(stored.PublicKey) == string(key.PublicKey().Serialize()), nil
}

// Direction mirrors libsignal's identity.Direction (Sending/Receiving).
type Direction int

// Recognized directions.
const (
	DirectionSending Direction = iota
	DirectionReceiving
)

// --- PreKeyStore ---

// LoadPreKey loads a one-time prekey record by id.
func (s *Store) LoadPreKey(ctx context.Context, id uint32) (*record.PreKey, error) {
	pk, err := s.db.GetPreKey(ctx, id)
	if err != nil {
		return nil, err
	}
	return record.NewPreKeyFromBytes(pk.Record, s.ser.PreKey)
}

// StorePreKey persists a prekey record.
func (s *Store) StorePreKey(ctx context.Context, id uint32, rec *record.PreKeyRecord) error {
	return s.db.SavePreKey(ctx, &store.PreKey{ID: id, Record: rec.Serialize()})
}

// ContainsPreKey reports whether the prekey is still present.
func (s *Store) ContainsPreKey(ctx context.Context, id uint32) (bool, error) {
	_, err := s.db.GetPreKey(ctx, id)
	return err == nil, nil
}

// RemovePreKey deletes a consumed one-time prekey.
func (s *Store) RemovePreKey(ctx context.Context, id uint32) error {
	return s.db.DeletePreKey(ctx, id)
}

// --- SignedPreKeyStore ---

// LoadSignedPreKey loads a signed prekey record by id.
func (s *Store) LoadSignedPreKey(ctx context.Context, id uint32) (*record.SignedPreKey, error) {
	spk, err := s.db.GetSignedPreKey(ctx, id)
	if err != nil {
		return nil, err
	}
	return record.NewSignedPreKeyFromBytes(spk.Record, s.ser.SignedPreKey)
}

// StoreSignedPreKey persists a signed prekey record.
func (s *Store) StoreSignedPreKey(ctx context.Context, id uint32, rec *record.SignedPreKeyRecord) error {
	return s.db.SaveSignedPreKey(ctx, &store.SignedPreKey{ID: id, Record: rec.Serialize()})
}

// --- SessionStore ---

// LoadSession loads the Double Ratchet session for address, or a fresh one.
func (s *Store) LoadSession(ctx context.Context, address *protocol.SignalAddress) (*record.Session, error) {
	sess, err := s.db.LoadSession(ctx, address.Name(), uint32(address.DeviceID()))
	if err != nil {
		return record.NewSession(s.ser.Session, s.ser.State), nil
	}
	return record.NewSessionFromBytes(sess.Record, s.ser.Session, s.ser.State)
}

// StoreSession persists the session record for address.
func (s *Store) StoreSession(ctx context.Context, address *protocol.SignalAddress, rec *record.SessionRecord) error {
	return s.db.StoreSession(ctx, &store.Session{
		Address:  address.Name(),
		DeviceID: uint32(address.DeviceID()),
		Record:   rec.Serialize(),
	})
}

// ContainsSession reports whether a session exists for address.
func (s *Store) ContainsSession(ctx context.Context, address *protocol.SignalAddress) (bool, error) {
	return s.db.HasSession(ctx, address.Name(), uint32(address.DeviceID()))
}

// DeleteSession deletes the session for address (used on UntrustedIdentity retry).
func (s *Store) DeleteSession(ctx context.Context, address *protocol.SignalAddress) error {
	return s.db.DeleteSession(ctx, address.Name(), uint32(address.DeviceID()))
}

// --- SenderKeyStore ---

// LoadSenderKey loads the group sender-key ratchet for (groupID, sender, device).
func (s *Store) LoadSenderKey(ctx context.Context, groupID, sender string, device uint32) (*record.SenderKey, error) {
	sk, err := s.db.LoadSenderKey(ctx, groupID, sender, device)
	if err != nil {
		return record.NewSenderKey(s.ser.SenderKeyState, s.ser.SenderKeyRecord), nil
	}
	return record.NewSenderKeyFromBytes(sk.Record, s.ser.SenderKeyState, s.ser.SenderKeyRecord)
}

// StoreSenderKey persists a group sender-key ratchet.
func (s *Store) StoreSenderKey(ctx context.Context, groupID, sender string, device uint32, rec *record.SenderKeyRecord) error {
	return s.db.StoreSenderKey(ctx, &store.SenderKey{
		GroupID:  groupID,
		SenderID: sender,
		DeviceID: device,
		Record:   rec.Serialize(),
	})
}
