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

// Package store declares the persistence contracts the core consumes. No
// concrete SQL lives here; internal/store/memstore ships one in-process
// reference implementation.
package store

import "time"

// Identity is a Signal identity key row. Address "-1" is the distinguished
// local row and carries both keys plus a registration id; every other row
// holds a remote peer's public key only.
type Identity struct {
	Address        string
	RegistrationID uint32
	PublicKey      []byte
	PrivateKey     []byte
	Timestamp      time.Time
}

// PreKey is a one-time prekey record.
type PreKey struct {
	ID     uint32
	Record []byte
}

// SignedPreKey is a rotating signed prekey record.
type SignedPreKey struct {
	ID        uint32
	Record    []byte
	Timestamp time.Time
}

// Session is a Double Ratchet session keyed by (address, device).
type Session struct {
	Address   string
	DeviceID  uint32
	Record    []byte
	Timestamp time.Time
}

// SenderKey is a group sender-key ratchet keyed by (group, sender, device).
type SenderKey struct {
	GroupID  string
	SenderID string
	DeviceID uint32
	Record   []byte
}

// RatchetStatus is the state of an in-flight sender-key request.
type RatchetStatus string

// RatchetStatusRequesting marks a sender-key request in flight.
const RatchetStatusRequesting RatchetStatus = "REQUESTING"

// RatchetSenderKey marks a sender-key request in flight for a given group
// member so a later duplicate RESEND_KEY request isn't issued redundantly.
type RatchetSenderKey struct {
	GroupID   string
	SenderID  string
	DeviceID  uint32
	Status    RatchetStatus
	MessageID string
	CreatedAt time.Time
}

// FloodMessage is a queued, undecrypted inbound envelope payload.
type FloodMessage struct {
	MessageID string
	Data      []byte
	CreatedAt time.Time
}

// MessageStatus mirrors the ack statuses the source exhibits. Only
// Delivered/Read are ever enqueued as acks; the rest are modeled because
// inbound envelopes can carry them verbatim (see spec §4.J.3's "envelope"
// ack status and the open question in §9).
type MessageStatus string

// Recognized message/ack statuses.
const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
	StatusUnknown   MessageStatus = "UNKNOWN"
	StatusSending   MessageStatus = "SENDING"
)

// Message is a materialized conversation message.
type Message struct {
	MessageID       string
	ConversationID  string
	UserID          string
	Category        string
	Content         string
	MediaStatus     string
	MediaMimeType   string
	MediaSize       int64
	MediaKey        []byte
	MediaDigest     []byte
	MediaWaveform   []byte
	MediaCaption    string
	MediaName       string
	MediaThumbImage string
	MediaDuration   int64
	Status          MessageStatus
	CreatedAt       time.Time
	Action          string
	ParticipantID   string
	SnapshotID      string
	QuoteMessageID  string
	QuoteContent    string
}

// MessageMention records that a message should surface as a mention.
type MessageMention struct {
	MessageID      string
	ConversationID string
	HasRead        bool
}

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus int

// Conversation statuses.
const (
	ConversationStart ConversationStatus = iota
	ConversationFailure
	ConversationSuccess
	ConversationQuit
)

// Conversation is a chat/group/contact thread.
type Conversation struct {
	ConversationID string
	OwnerID        string
	Category       string
	Name           string
	IconURL        string
	Announcement   string
	CodeURL        string
	CreatedAt      time.Time
	Status         ConversationStatus
	MuteUntil      time.Time
	ExpireIn       int64
}

// Participant is a conversation member row.
type Participant struct {
	ConversationID string
	UserID         string
	Role           string
	CreatedAt      time.Time
}

// ParticipantSession tracks per-member Signal session bookkeeping.
type ParticipantSession struct {
	ConversationID string
	UserID         string
	SessionID      string
	SentToServer   bool
	PublicKey      string
}

// Job is a persisted unit of outbound work.
type Job struct {
	JobID          string
	Action         string
	BlazeMessage   []byte
	ConversationID string
	Priority       int
	RunCount       int
	CreatedAt      time.Time
}

// PinMessage is a pinned-message bookkeeping row.
type PinMessage struct {
	ConversationID string
	MessageID      string
	CreatedAt      time.Time
}

// Sticker is a cached sticker descriptor.
type Sticker struct {
	StickerID string
	AlbumID   string
	Name      string
	AssetURL  string
}

// SafeSnapshot is a confirmed on-chain transaction snapshot.
type SafeSnapshot struct {
	SnapshotID      string
	TransactionHash string
	Data            []byte
	CreatedAt       time.Time
}

// Snapshot is a legacy account/asset snapshot.
type Snapshot struct {
	SnapshotID string
	Data       []byte
	CreatedAt  time.Time
}

// App is a cached bot/app descriptor, refreshed on app-card messages.
type App struct {
	AppID     string
	UpdatedAt time.Time
	Data      []byte
}

// ExpiredMessage tracks the earliest expiration deadline for a message.
type ExpiredMessage struct {
	MessageID string
	ExpireAt  time.Time
}

// User is a cached remote user profile, refreshed by internal/sync.
type User struct {
	UserID         string
	IdentityNumber string
	FullName       string
	AvatarURL      string
	UpdatedAt      time.Time
}

// Auth is the persisted local account, written exactly once per login.
type Auth struct {
	UserID     string
	SessionID  string
	PrivateKey []byte
	Account    []byte
}

// Circle groups conversations for the local user.
type Circle struct {
	CircleID  string
	Name      string
	CreatedAt time.Time
}

// CircleConversation links a conversation into a circle.
type CircleConversation struct {
	CircleID       string
	ConversationID string
}

// CryptoCounters are the Signal Keystore's in-process, write-through-backed
// counters.
type CryptoCounters struct {
	NextPreKeyID       uint32
	NextSignedPreKeyID uint32
	HasPushSignalKeys  bool
}
