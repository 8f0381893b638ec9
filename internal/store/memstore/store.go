// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package memstore is the in-process reference implementation of
// internal/store.Store, backed by mutex-guarded maps. It exists so the
// core has somewhere to run without a database, and so tests don't need
// one either.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/riftline/msgcore/internal/store"
)

const localAddress = "-1"

// Store implements store.Store entirely in memory.
type Store struct {
	mu sync.RWMutex

	identities   map[string]*store.Identity
	prekeys      map[uint32]*store.PreKey
	signedPrekey map[uint32]*store.SignedPreKey
	sessions     map[sessionKey]*store.Session
	senderKeys   map[senderKeyKey]*store.SenderKey
	ratchetKeys  map[senderKeyKey]*store.RatchetSenderKey
	counters     *store.CryptoCounters

	flood    map[string]*store.FloodMessage
	history  map[string]bool
	messages map[string]*store.Message
	mentions map[string]*store.MessageMention

	conversations map[string]*store.Conversation
	participants  map[string][]*store.Participant
	partSessions  map[string][]*store.ParticipantSession

	jobs map[string]*store.Job

	pins             map[string]*store.PinMessage
	safeSnapshots    map[string]*store.SafeSnapshot
	snapshots        map[string]*store.Snapshot
	expiredMessages  map[string]*store.ExpiredMessage
	auth             *store.Auth
	circles          map[string]*store.Circle
	circleConvs      map[string]*store.CircleConversation
	stickers         map[string]*store.Sticker
	apps             map[string]*store.App
	users            map[string]*store.User
}

type sessionKey struct {
	address  string
	deviceID uint32
}

type senderKeyKey struct {
	groupID  string
	senderID string
	deviceID uint32
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		identities:      make(map[string]*store.Identity),
		prekeys:         make(map[uint32]*store.PreKey),
		signedPrekey:    make(map[uint32]*store.SignedPreKey),
		sessions:        make(map[sessionKey]*store.Session),
		senderKeys:      make(map[senderKeyKey]*store.SenderKey),
		ratchetKeys:     make(map[senderKeyKey]*store.RatchetSenderKey),
		flood:           make(map[string]*store.FloodMessage),
		history:         make(map[string]bool),
		messages:        make(map[string]*store.Message),
		mentions:        make(map[string]*store.MessageMention),
		conversations:   make(map[string]*store.Conversation),
		participants:    make(map[string][]*store.Participant),
		partSessions:    make(map[string][]*store.ParticipantSession),
		jobs:            make(map[string]*store.Job),
		pins:            make(map[string]*store.PinMessage),
		safeSnapshots:   make(map[string]*store.SafeSnapshot),
		snapshots:       make(map[string]*store.Snapshot),
		expiredMessages: make(map[string]*store.ExpiredMessage),
		circles:         make(map[string]*store.Circle),
		circleConvs:     make(map[string]*store.CircleConversation),
		stickers:        make(map[string]*store.Sticker),
		apps:            make(map[string]*store.App),
		users:           make(map[string]*store.User),
	}
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

func pinKey(conversationID, messageID string) string {
	return conversationID + "|" + messageID
}

func circleConvKey(circleID, conversationID string) string {
	return circleID + "|" + conversationID
}

// --- Identity ---

func (s *Store) GetLocalIdentity(ctx context.Context) (*store.Identity, error) {
	return s.GetIdentity(ctx, localAddress)
}

func (s *Store) SaveLocalIdentity(ctx context.Context, identity *store.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.identities[localAddress]; exists {
		return fmt.Errorf("local identity already initialized")
	}
	id := *identity
	id.Address = localAddress
	s.identities[localAddress] = &id
	return nil
}

func (s *Store) GetIdentity(ctx context.Context, address string) (*store.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[address]
	if !ok {
		return nil, fmt.Errorf("identity not found for %s", address)
	}
	return id, nil
}

func (s *Store) SaveIdentity(ctx context.Context, address string, identity *store.Identity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.identities[address]
	if ok && bytes.Equal(existing.PublicKey, identity.PublicKey) {
		return false, nil
	}
	id := *identity
	id.Address = address
	s.identities[address] = &id
	return true, nil
}

// --- PreKey ---

func (s *Store) GetPreKey(ctx context.Context, id uint32) (*store.PreKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pk, ok := s.prekeys[id]
	if !ok {
		return nil, fmt.Errorf("prekey %d not found", id)
	}
	return pk, nil
}

func (s *Store) SavePreKey(ctx context.Context, pk *store.PreKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prekeys[pk.ID] = pk
	return nil
}

func (s *Store) InsertPreKeys(ctx context.Context, pks []*store.PreKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pk := range pks {
		s.prekeys[pk.ID] = pk
	}
	return nil
}

func (s *Store) DeletePreKey(ctx context.Context, id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prekeys, id)
	return nil
}

// --- SignedPreKey ---

func (s *Store) GetSignedPreKey(ctx context.Context, id uint32) (*store.SignedPreKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spk, ok := s.signedPrekey[id]
	if !ok {
		return nil, fmt.Errorf("signed prekey %d not found", id)
	}
	return spk, nil
}

func (s *Store) SaveSignedPreKey(ctx context.Context, spk *store.SignedPreKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedPrekey[spk.ID] = spk
	return nil
}

// --- Session ---

func (s *Store) LoadSession(ctx context.Context, address string, deviceID uint32) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionKey{address, deviceID}]
	if !ok {
		return nil, fmt.Errorf("session not found for %s:%d", address, deviceID)
	}
	return sess, nil
}

func (s *Store) StoreSession(ctx context.Context, session *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionKey{session.Address, session.DeviceID}] = session
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, address string, deviceID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey{address, deviceID})
	return nil
}

func (s *Store) HasSession(ctx context.Context, address string, deviceID uint32) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sessionKey{address, deviceID}]
	return ok, nil
}

// --- SenderKey ---

func (s *Store) LoadSenderKey(ctx context.Context, groupID, senderID string, deviceID uint32) (*store.SenderKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sk, ok := s.senderKeys[senderKeyKey{groupID, senderID, deviceID}]
	if !ok {
		return nil, fmt.Errorf("sender key not found for %s/%s:%d", groupID, senderID, deviceID)
	}
	return sk, nil
}

func (s *Store) StoreSenderKey(ctx context.Context, sk *store.SenderKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senderKeys[senderKeyKey{sk.GroupID, sk.SenderID, sk.DeviceID}] = sk
	return nil
}

func (s *Store) HasSenderKey(ctx context.Context, groupID, senderID string, deviceID uint32) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.senderKeys[senderKeyKey{groupID, senderID, deviceID}]
	return ok, nil
}

// --- RatchetSenderKey ---

func (s *Store) UpsertRatchetSenderKey(ctx context.Context, r *store.RatchetSenderKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratchetKeys[senderKeyKey{r.GroupID, r.SenderID, r.DeviceID}] = r
	return nil
}

func (s *Store) DeleteRatchetSenderKey(ctx context.Context, groupID, senderID string, deviceID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ratchetKeys, senderKeyKey{groupID, senderID, deviceID})
	return nil
}

func (s *Store) GetRatchetSenderKey(ctx context.Context, groupID, senderID string, deviceID uint32) (*store.RatchetSenderKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.ratchetKeys[senderKeyKey{groupID, senderID, deviceID}]
	if !ok {
		return nil, nil
	}
	return r, nil
}

// --- Counters ---

func (s *Store) GetCounters(ctx context.Context) (*store.CryptoCounters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.counters == nil {
		return nil, nil
	}
	c := *s.counters
	return &c, nil
}

func (s *Store) SaveCounters(ctx context.Context, c *store.CryptoCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := *c
	s.counters = &v
	return nil
}

// --- FloodMessage ---

func (s *Store) InsertFloodMessage(ctx context.Context, m *store.FloodMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.flood[m.MessageID]; exists {
		return nil // idempotent replace-or-ignore
	}
	s.flood[m.MessageID] = m
	return nil
}

func (s *Store) Oldest(ctx context.Context, n int) ([]*store.FloodMessage, error) {
	s.mu.RLock()
	all := make([]*store.FloodMessage, 0, len(s.flood))
	for _, m := range s.flood {
		all = append(all, m)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (s *Store) DeleteFloodMessage(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flood, messageID)
	return nil
}

// --- MessageHistory ---

func (s *Store) HasProcessed(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history[messageID], nil
}

func (s *Store) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[messageID] = true
	return nil
}

// --- Message ---

func (s *Store) UpsertMessage(ctx context.Context, m *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.MessageID] = m
	return nil
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s not found", messageID)
	}
	return m, nil
}

func (s *Store) MessageExists(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[messageID]
	return ok, nil
}

func (s *Store) UpdateMessageStatus(ctx context.Context, messageID string, status store.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s not found", messageID)
	}
	m.Status = status
	return nil
}

func (s *Store) UpsertMention(ctx context.Context, m *store.MessageMention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mentions[m.MessageID] = m
	return nil
}

func (s *Store) MarkMentionRead(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.mentions[messageID]; ok {
		m.HasRead = true
	}
	return nil
}

// --- Conversation ---

func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	return c, nil
}

func (s *Store) UpsertConversation(ctx context.Context, c *store.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ConversationID] = c
	return nil
}

func (s *Store) SetConversationStatus(ctx context.Context, id string, status store.ConversationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s not found", id)
	}
	c.Status = status
	return nil
}

func (s *Store) SetConversationExpireIn(ctx context.Context, id string, expireIn int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s not found", id)
	}
	c.ExpireIn = expireIn
	return nil
}

// --- Participant ---

func (s *Store) ReplaceParticipants(ctx context.Context, conversationID string, participants []*store.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[conversationID] = participants
	return nil
}

func (s *Store) DeleteParticipant(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.participants[conversationID]
	out := list[:0]
	for _, p := range list {
		if p.UserID != userID {
			out = append(out, p)
		}
	}
	s.participants[conversationID] = out
	return nil
}

func (s *Store) ListParticipants(ctx context.Context, conversationID string) ([]*store.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participants[conversationID], nil
}

func (s *Store) ReplaceParticipantSessions(ctx context.Context, conversationID string, sessions []*store.ParticipantSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partSessions[conversationID] = sessions
	return nil
}

func (s *Store) UpsertParticipantSession(ctx context.Context, ps *store.ParticipantSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.partSessions[ps.ConversationID]
	for i, existing := range list {
		if existing.UserID == ps.UserID {
			list[i] = ps
			return nil
		}
	}
	s.partSessions[ps.ConversationID] = append(list, ps)
	return nil
}

func (s *Store) DeleteParticipantSession(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.partSessions[conversationID]
	out := list[:0]
	for _, ps := range list {
		if ps.UserID != userID {
			out = append(out, ps)
		}
	}
	s.partSessions[conversationID] = out
	return nil
}

func (s *Store) ListParticipantSessions(ctx context.Context, conversationID string) ([]*store.ParticipantSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partSessions[conversationID], nil
}

func (s *Store) ClearSentToServer(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ps := range s.partSessions[conversationID] {
		ps.SentToServer = false
	}
	return nil
}

// --- Job ---

func (s *Store) EnqueueJob(ctx context.Context, j *store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.JobID] = j // deterministic job ids coalesce duplicate acks
	return nil
}

func (s *Store) ListJobs(ctx context.Context, action string, limit int) ([]*store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Job
	for _, j := range s.jobs {
		if j.Action != action {
			continue
		}
		out = append(out, j)
		if len(out) == limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

// --- Pin ---

func (s *Store) UpsertPin(ctx context.Context, p *store.PinMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[pinKey(p.ConversationID, p.MessageID)] = p
	return nil
}

func (s *Store) DeletePin(ctx context.Context, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pins, pinKey(conversationID, messageID))
	return nil
}

// --- Snapshot ---

func (s *Store) UpsertSafeSnapshot(ctx context.Context, snap *store.SafeSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.safeSnapshots[snap.SnapshotID] = snap
	return nil
}

func (s *Store) DeleteSafeSnapshotByTxHash(ctx context.Context, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, snap := range s.safeSnapshots {
		if snap.TransactionHash == txHash {
			delete(s.safeSnapshots, id)
		}
	}
	return nil
}

func (s *Store) UpsertSnapshot(ctx context.Context, snap *store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.SnapshotID] = snap
	return nil
}

// --- ExpiredMessage ---

func (s *Store) UpsertEarliestExpiration(ctx context.Context, messageID string, expireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.expiredMessages[messageID]
	if ok && existing.ExpireAt.Before(expireAt) {
		return nil
	}
	s.expiredMessages[messageID] = &store.ExpiredMessage{MessageID: messageID, ExpireAt: expireAt}
	return nil
}

// --- Auth ---

func (s *Store) GetAuth(ctx context.Context) (*store.Auth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.auth == nil {
		return nil, fmt.Errorf("auth not found")
	}
	return s.auth, nil
}

func (s *Store) SaveAuth(ctx context.Context, a *store.Auth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auth != nil {
		return fmt.Errorf("auth already persisted")
	}
	s.auth = a
	return nil
}

// --- Circle ---

func (s *Store) UpsertCircle(ctx context.Context, c *store.Circle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circles[c.CircleID] = c
	return nil
}

func (s *Store) DeleteCircle(ctx context.Context, circleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.circles, circleID)
	for k, cc := range s.circleConvs {
		if cc.CircleID == circleID {
			delete(s.circleConvs, k)
		}
	}
	return nil
}

func (s *Store) UpsertCircleConversation(ctx context.Context, cc *store.CircleConversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circleConvs[circleConvKey(cc.CircleID, cc.ConversationID)] = cc
	return nil
}

func (s *Store) DeleteCircleConversation(ctx context.Context, circleID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.circleConvs, circleConvKey(circleID, conversationID))
	return nil
}

// --- Sticker / App ---

func (s *Store) GetSticker(ctx context.Context, id string) (*store.Sticker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stickers[id]
	if !ok {
		return nil, fmt.Errorf("sticker %s not found", id)
	}
	return st, nil
}

func (s *Store) UpsertSticker(ctx context.Context, st *store.Sticker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stickers[st.StickerID] = st
	return nil
}

func (s *Store) GetApp(ctx context.Context, appID string) (*store.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.apps[appID]
	if !ok {
		return nil, fmt.Errorf("app %s not found", appID)
	}
	return a, nil
}

func (s *Store) UpsertApp(ctx context.Context, a *store.App) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[a.AppID] = a
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	return u, nil
}

func (s *Store) UpsertUser(ctx context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UserID] = u
	return nil
}

var _ store.Store = (*Store)(nil)
