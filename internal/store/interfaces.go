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

package store

import (
	"context"
	"time"
)

// IdentityStore owns the local identity row and every trusted peer public
// key the Signal Keystore has observed.
type IdentityStore interface {
	GetLocalIdentity(ctx context.Context) (*Identity, error)
	SaveLocalIdentity(ctx context.Context, identity *Identity) error
	GetIdentity(ctx context.Context, address string) (*Identity, error)
	// SaveIdentity stores identity for address and reports whether the
	// stored public key changed or was previously absent.
	SaveIdentity(ctx context.Context, address string, identity *Identity) (changed bool, err error)
}

// PreKeyStore owns one-time prekeys.
type PreKeyStore interface {
	GetPreKey(ctx context.Context, id uint32) (*PreKey, error)
	SavePreKey(ctx context.Context, pk *PreKey) error
	InsertPreKeys(ctx context.Context, pks []*PreKey) error
	DeletePreKey(ctx context.Context, id uint32) error
}

// SignedPreKeyStore owns rotating signed prekeys.
type SignedPreKeyStore interface {
	GetSignedPreKey(ctx context.Context, id uint32) (*SignedPreKey, error)
	SaveSignedPreKey(ctx context.Context, spk *SignedPreKey) error
}

// SessionStore owns per-(address,device) Double Ratchet sessions.
type SessionStore interface {
	LoadSession(ctx context.Context, address string, deviceID uint32) (*Session, error)
	StoreSession(ctx context.Context, session *Session) error
	DeleteSession(ctx context.Context, address string, deviceID uint32) error
	HasSession(ctx context.Context, address string, deviceID uint32) (bool, error)
}

// SenderKeyStore owns group sender-key ratchets.
type SenderKeyStore interface {
	LoadSenderKey(ctx context.Context, groupID, senderID string, deviceID uint32) (*SenderKey, error)
	StoreSenderKey(ctx context.Context, sk *SenderKey) error
	HasSenderKey(ctx context.Context, groupID, senderID string, deviceID uint32) (bool, error)
}

// RatchetSenderKeyStore tracks in-flight sender-key requests.
type RatchetSenderKeyStore interface {
	UpsertRatchetSenderKey(ctx context.Context, r *RatchetSenderKey) error
	DeleteRatchetSenderKey(ctx context.Context, groupID, senderID string, deviceID uint32) error
	GetRatchetSenderKey(ctx context.Context, groupID, senderID string, deviceID uint32) (*RatchetSenderKey, error)
}

// CounterStore is the durable backing for the Signal Keystore's in-process
// counter cache.
type CounterStore interface {
	GetCounters(ctx context.Context) (*CryptoCounters, error)
	SaveCounters(ctx context.Context, c *CryptoCounters) error
}

// FloodMessageStore owns the queue of undecrypted inbound envelopes.
type FloodMessageStore interface {
	InsertFloodMessage(ctx context.Context, m *FloodMessage) error
	Oldest(ctx context.Context, n int) ([]*FloodMessage, error)
	DeleteFloodMessage(ctx context.Context, messageID string) error
}

// MessageHistoryStore guards against double-applying a flood message.
type MessageHistoryStore interface {
	HasProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// MessageStore owns materialized conversation messages and mentions.
type MessageStore interface {
	UpsertMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, messageID string) (*Message, error)
	MessageExists(ctx context.Context, messageID string) (bool, error)
	UpdateMessageStatus(ctx context.Context, messageID string, status MessageStatus) error
	UpsertMention(ctx context.Context, m *MessageMention) error
	MarkMentionRead(ctx context.Context, messageID string) error
}

// ConversationStore owns conversation rows.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpsertConversation(ctx context.Context, c *Conversation) error
	SetConversationStatus(ctx context.Context, id string, status ConversationStatus) error
	SetConversationExpireIn(ctx context.Context, id string, expireIn int64) error
}

// ParticipantStore owns conversation membership and per-member session
// bookkeeping, each replaceable atomically.
type ParticipantStore interface {
	ReplaceParticipants(ctx context.Context, conversationID string, participants []*Participant) error
	DeleteParticipant(ctx context.Context, conversationID, userID string) error
	ListParticipants(ctx context.Context, conversationID string) ([]*Participant, error)

	ReplaceParticipantSessions(ctx context.Context, conversationID string, sessions []*ParticipantSession) error
	UpsertParticipantSession(ctx context.Context, s *ParticipantSession) error
	DeleteParticipantSession(ctx context.Context, conversationID, userID string) error
	ListParticipantSessions(ctx context.Context, conversationID string) ([]*ParticipantSession, error)
	ClearSentToServer(ctx context.Context, conversationID string) error
}

// JobStore owns the outbound work queue.
type JobStore interface {
	EnqueueJob(ctx context.Context, j *Job) error
	ListJobs(ctx context.Context, action string, limit int) ([]*Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// PinStore owns pinned-message bookkeeping.
type PinStore interface {
	UpsertPin(ctx context.Context, p *PinMessage) error
	DeletePin(ctx context.Context, conversationID, messageID string) error
}

// SnapshotStore owns account/safe snapshots.
type SnapshotStore interface {
	UpsertSafeSnapshot(ctx context.Context, s *SafeSnapshot) error
	DeleteSafeSnapshotByTxHash(ctx context.Context, txHash string) error
	UpsertSnapshot(ctx context.Context, s *Snapshot) error
}

// ExpiredMessageStore owns per-message expiration deadlines.
type ExpiredMessageStore interface {
	UpsertEarliestExpiration(ctx context.Context, messageID string, expireAt time.Time) error
}

// AuthStore owns the local account row, written exactly once.
type AuthStore interface {
	GetAuth(ctx context.Context) (*Auth, error)
	SaveAuth(ctx context.Context, a *Auth) error
}

// CircleStore owns circle membership.
type CircleStore interface {
	UpsertCircle(ctx context.Context, c *Circle) error
	DeleteCircle(ctx context.Context, circleID string) error
	UpsertCircleConversation(ctx context.Context, cc *CircleConversation) error
	DeleteCircleConversation(ctx context.Context, circleID, conversationID string) error
}

// StickerStore owns the local sticker cache consulted by the flood
// pipeline's sticker sub-policy.
type StickerStore interface {
	GetSticker(ctx context.Context, id string) (*Sticker, error)
	UpsertSticker(ctx context.Context, s *Sticker) error
}

// AppStore owns the local app/bot cache consulted on app-card messages.
type AppStore interface {
	GetApp(ctx context.Context, appID string) (*App, error)
	UpsertApp(ctx context.Context, a *App) error
}

// UserStore owns the local cache of remote user profiles.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	UpsertUser(ctx context.Context, u *User) error
}

// Store composes every persistence contract the core consumes. Concrete
// storage backends implement Store; cmd/msgcored wires memstore.New() by
// default.
type Store interface {
	IdentityStore
	PreKeyStore
	SignedPreKeyStore
	SessionStore
	SenderKeyStore
	RatchetSenderKeyStore
	CounterStore
	FloodMessageStore
	MessageHistoryStore
	MessageStore
	ConversationStore
	ParticipantStore
	JobStore
	PinStore
	SnapshotStore
	ExpiredMessageStore
	AuthStore
	CircleStore
	StickerStore
	AppStore
	UserStore

	Close() error
}
