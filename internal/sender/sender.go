// Package sender implements the outbound half of the protocol: building,
// checksumming and delivering envelopes over the Link, and the sender-key
// maintenance protocol (send/resend/no-key) layered on top of it.
package sender

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/libsignal/ecc"
	"go.mau.fi/libsignal/keys/identity"
	"go.mau.fi/libsignal/keys/prekey"
	"go.mau.fi/libsignal/util/optional"

	"github.com/riftline/msgcore/internal/compose"
	"github.com/riftline/msgcore/internal/envelope"
	"github.com/riftline/msgcore/internal/logger"
	"github.com/riftline/msgcore/internal/signalengine"
	"github.com/riftline/msgcore/internal/store"
	"github.com/riftline/msgcore/internal/sync"
)

// Error codes the platform returns in envelope.ServerError.Code.
const (
	codeConversationChecksumInvalid = 20140
	codeForbidden                   = 403
	codeBadData                     = 10002
)

// ErrBadData marks a delivery permanently rejected as malformed (code
// 10002); job runners treat it the same as success and drop the job.
var ErrBadData = fmt.Errorf("sender: message rejected as bad data")

// DeliverResult is the outcome of Deliver.
type DeliverResult struct {
	Success bool
	Retry   bool
	Code    int
}

// link is the subset of *internal/link.Link sender depends on.
type link interface {
	SendMessage(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error)
}

// Sender implements the message-sending and sender-key maintenance
// protocol on top of a Link, a Signal Engine and the local store.
type Sender struct {
	link      link
	engine    *signalengine.Engine
	db        store.Store
	syncer    *sync.Syncer
	localUser string
	log       logger.Logger

	lastSignalKeyRefresh time.Time
}

// New builds a Sender.
func New(l link, engine *signalengine.Engine, db store.Store, syncer *sync.Syncer, localUserID string, log logger.Logger) *Sender {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Sender{link: l, engine: engine, db: db, syncer: syncer, localUser: localUserID, log: log}
}

// Deliver sends env and classifies the server's response per spec §4.I.1.
// On CONVERSATION_CHECKSUM_INVALID it resyncs the conversation and asks the
// caller to retry. On any other error it sleeps 1s and recurses.
func (s *Sender) Deliver(ctx context.Context, conversationID string, env *envelope.Envelope) (DeliverResult, error) {
	for {
		reply, err := s.link.SendMessage(ctx, env)
		if err != nil {
			return DeliverResult{}, fmt.Errorf("sender: deliver: %w", err)
		}
		if reply.Error == nil {
			return DeliverResult{Success: true}, nil
		}

		switch reply.Error.Code {
		case codeConversationChecksumInvalid:
			if conversationID != "" {
				if err := s.syncer.SyncConversation(ctx, conversationID); err != nil {
					s.log.Warn("sender: resync after checksum mismatch failed", logger.Error(err))
				}
			}
			return DeliverResult{Success: false, Retry: true, Code: reply.Error.Code}, nil
		case codeForbidden, codeBadData:
			return DeliverResult{Success: false, Retry: false, Code: reply.Error.Code}, nil
		default:
			select {
			case <-ctx.Done():
				return DeliverResult{}, ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

type signalKeyBundle struct {
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id"`
	RegistrationID uint32 `json:"registration_id"`
	IdentityKey    string `json:"identity_key"`
	PreKey         *struct {
		KeyID  uint32 `json:"key_id"`
		PubKey string `json:"pub_key"`
	} `json:"pre_key"`
	SignedPreKey struct {
		KeyID     uint32 `json:"key_id"`
		PubKey    string `json:"pub_key"`
		Signature string `json:"signature"`
	} `json:"signed_pre_key"`
}

func decodeECPoint(b64 string) (ecc.ECPublicKeyable, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return ecc.DecodePoint(raw, 0)
}

func (b *signalKeyBundle) toBundle() (*prekey.Bundle, error) {
	identityBytes, err := base64.StdEncoding.DecodeString(b.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("decode identity key: %w", err)
	}
	identityPoint, err := ecc.DecodePoint(identityBytes, 0)
	if err != nil {
		return nil, fmt.Errorf("decode identity key point: %w", err)
	}
	identityKey := identity.NewKey(identityPoint)

	signedPub, err := decodeECPoint(b.SignedPreKey.PubKey)
	if err != nil {
		return nil, fmt.Errorf("decode signed prekey: %w", err)
	}
	signature, err := base64.StdEncoding.DecodeString(b.SignedPreKey.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode signed prekey signature: %w", err)
	}

	preKeyID := optional.NewEmptyUint32()
	var preKeyPub ecc.ECPublicKeyable
	if b.PreKey != nil {
		preKeyID = optional.NewOptionalUint32(b.PreKey.KeyID)
		preKeyPub, err = decodeECPoint(b.PreKey.PubKey)
		if err != nil {
			return nil, fmt.Errorf("decode one-time prekey: %w", err)
		}
	}

	return prekey.NewBundle(b.RegistrationID, signalengine.DeviceID(nil), preKeyID, preKeyPub,
		b.SignedPreKey.KeyID, signedPub, signature, identityKey), nil
}

// SendSenderKey implements §4.I.3's send_sender_key: consume one of the
// recipient session's prekeys, establish a session from it, and deliver a
// freshly encrypted sender key. Returns false (no error) whenever the
// protocol's own "no key available" paths are hit.
func (s *Sender) SendSenderKey(ctx context.Context, conversationID, userID, sessionID string) (bool, error) {
	reqBody, _ := json.Marshal([]map[string]string{{"user_id": userID, "session_id": sessionID}})
	reply, err := s.link.SendMessage(ctx, &envelope.Envelope{
		ID:     uuid.NewString(),
		Action: envelope.ActionConsumeSessionSignalKeys,
		Params: reqBody,
	})
	if err != nil {
		return false, fmt.Errorf("sender: consume session signal keys: %w", err)
	}
	if reply.Error != nil || len(reply.Data) == 0 || string(reply.Data) == "null" || string(reply.Data) == "[]" {
		if err := s.db.UpsertParticipantSession(ctx, &store.ParticipantSession{
			ConversationID: conversationID,
			UserID:         userID,
			SessionID:      sessionID,
		}); err != nil {
			return false, fmt.Errorf("sender: upsert placeholder participant session: %w", err)
		}
		return false, nil
	}

	var bundles []signalKeyBundle
	if err := json.Unmarshal(reply.Data, &bundles); err != nil || len(bundles) == 0 {
		return false, nil
	}
	bundle, err := bundles[0].toBundle()
	if err != nil {
		return false, fmt.Errorf("sender: decode signal key bundle: %w", err)
	}

	sid, err := uuid.Parse(sessionID)
	var sidPtr *uuid.UUID
	if err == nil {
		sidPtr = &sid
	}
	if err := s.engine.ProcessSession(ctx, userID, sidPtr, bundle); err != nil {
		return false, fmt.Errorf("sender: process session: %w", err)
	}

	deviceID := signalengine.DeviceID(sidPtr)
	result, err := s.engine.EncryptSenderKey(ctx, conversationID, userID, deviceID)
	if err != nil {
		return false, fmt.Errorf("sender: encrypt sender key: %w", err)
	}
	if !result.OK {
		return false, nil
	}

	msg := map[string]interface{}{
		"message_id":   uuid.NewString(),
		"recipient_id": userID,
		"data":         result.Encoded,
		"session_id":   sessionID,
	}
	body, _ := json.Marshal(map[string]interface{}{
		"conversation_id":      conversationID,
		"conversation_checksum": Checksum([]string{sessionID}),
		"messages":             []interface{}{msg},
	})
	env := &envelope.Envelope{ID: uuid.NewString(), Action: envelope.ActionCreateSignalKeyMessages, Params: body}

	for {
		res, err := s.Deliver(ctx, conversationID, env)
		if err != nil {
			return false, err
		}
		if res.Retry {
			continue
		}
		if !res.Success {
			return false, nil
		}
		break
	}

	if err := s.db.UpsertParticipantSession(ctx, &store.ParticipantSession{
		ConversationID: conversationID,
		UserID:         userID,
		SessionID:      sessionID,
		SentToServer:   true,
	}); err != nil {
		return false, fmt.Errorf("sender: mark participant session sent: %w", err)
	}
	return true, nil
}

// SendNoKeyMessage delivers a PLAIN_JSON NO_KEY action when the sender-key
// protocol finds no usable key for a recipient.
func (s *Sender) SendNoKeyMessage(ctx context.Context, conversationID, userID string) error {
	return s.sendPlainJSON(ctx, conversationID, map[string]string{"action": "NO_KEY"})
}

// RequestResendKey asks userID to resend their sender key for messageID,
// marking a REQUESTING row so a duplicate request isn't issued.
func (s *Sender) RequestResendKey(ctx context.Context, conversationID, recipientID, messageID string, sessionID *uuid.UUID) error {
	if err := s.sendPlainJSON(ctx, conversationID, map[string]string{"action": "RESEND_KEY", "message_id": messageID}); err != nil {
		return err
	}
	deviceID := signalengine.DeviceID(sessionID)
	return s.db.UpsertRatchetSenderKey(ctx, &store.RatchetSenderKey{
		GroupID:   conversationID,
		SenderID:  recipientID,
		DeviceID:  deviceID,
		Status:    store.RatchetStatusRequesting,
		MessageID: messageID,
		CreatedAt: time.Now(),
	})
}

// RequestResendMessage asks userID to resend a set of failed message ids.
// No-ops when there is nothing to resend, and clears the in-flight
// sender-key request on success.
func (s *Sender) RequestResendMessage(ctx context.Context, conversationID, userID string, sessionID *uuid.UUID, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := s.sendPlainJSON(ctx, conversationID, map[string]interface{}{"action": "RESEND_MESSAGES", "messages": messageIDs}); err != nil {
		return err
	}
	deviceID := signalengine.DeviceID(sessionID)
	return s.db.DeleteRatchetSenderKey(ctx, conversationID, userID, deviceID)
}

// DeliverPlainJSON builds and delivers a PLAIN_JSON message carrying
// payload, retrying on checksum-invalid and surfacing any permanent
// rejection as an error. Job runners use this to re-deliver stored work.
func (s *Sender) DeliverPlainJSON(ctx context.Context, conversationID string, payload interface{}) error {
	return s.sendPlainJSON(ctx, conversationID, payload)
}

func (s *Sender) sendPlainJSON(ctx context.Context, conversationID string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data := base64.StdEncoding.EncodeToString(raw)
	body, _ := json.Marshal(map[string]interface{}{
		"conversation_id": conversationID,
		"messages": []map[string]string{{
			"message_id": uuid.NewString(),
			"category":   "PLAIN_JSON",
			"data":       data,
		}},
	})
	env := &envelope.Envelope{ID: uuid.NewString(), Action: envelope.ActionCreateMessage, Params: body}

	for {
		res, err := s.Deliver(ctx, conversationID, env)
		if err != nil {
			return err
		}
		if res.Retry {
			continue
		}
		if !res.Success {
			if res.Code == codeBadData {
				return ErrBadData
			}
			return fmt.Errorf("sender: plain message rejected with code %d", res.Code)
		}
		return nil
	}
}

// signalKeysChannel implements §4.I.5: send via the Link; FORBIDDEN yields
// (nil, nil); any other error backs off 1s and recurses; success returns the
// reply.
func (s *Sender) signalKeysChannel(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	for {
		reply, err := s.link.SendMessage(ctx, env)
		if err != nil {
			return nil, err
		}
		if reply.Error == nil {
			return reply, nil
		}
		if reply.Error.Code == codeForbidden {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

type countSignalKeysResponse struct {
	OneTimePreKeysCount int `json:"one_time_pre_keys_count"`
}

// RefreshSignalKey implements the §4.I.4 rate-limited key refresh: at most
// once per 60s, and only when the server-side one-time prekey count has
// dropped below 500 or no batch has ever been pushed.
func (s *Sender) RefreshSignalKey(ctx context.Context, engine *signalengine.Engine, hasPushed func(context.Context) (bool, error), setPushed func(context.Context) error) error {
	if time.Since(s.lastSignalKeyRefresh) < 60*time.Second {
		return nil
	}
	s.lastSignalKeyRefresh = time.Now()

	reply, err := s.signalKeysChannel(ctx, &envelope.Envelope{ID: uuid.NewString(), Action: envelope.ActionCountSignalKeys})
	if err != nil {
		return fmt.Errorf("sender: count signal keys: %w", err)
	}
	if reply == nil {
		return nil
	}
	var count countSignalKeysResponse
	if err := json.Unmarshal(reply.Data, &count); err != nil {
		return fmt.Errorf("sender: decode signal key count: %w", err)
	}

	pushed, err := hasPushed(ctx)
	if err != nil {
		return err
	}
	if count.OneTimePreKeysCount >= 500 && pushed {
		return nil
	}

	keys, err := engine.GenerateKeys(ctx)
	if err != nil {
		return fmt.Errorf("sender: generate signal keys: %w", err)
	}
	body, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	reply, err = s.signalKeysChannel(ctx, &envelope.Envelope{ID: uuid.NewString(), Action: envelope.ActionSyncSignalKeys, Params: body})
	if err != nil {
		return fmt.Errorf("sender: sync signal keys: %w", err)
	}
	if reply == nil || reply.Error != nil {
		return nil
	}
	return setPushed(ctx)
}

// ParticipantAction tags the reason send_process_signal_key was invoked.
type ParticipantAction int

// Recognized participant actions.
const (
	ActionResendKey ParticipantAction = iota
	ActionRemoveParticipant
	ActionAddParticipant
)

// SendProcessSignalKey implements §4.I.6's participant key maintenance.
func (s *Sender) SendProcessSignalKey(ctx context.Context, action ParticipantAction, conversationID, userID, sessionID string) error {
	switch action {
	case ActionResendKey:
		ok, err := s.SendSenderKey(ctx, conversationID, userID, sessionID)
		if err != nil {
			return err
		}
		if !ok {
			return s.SendNoKeyMessage(ctx, conversationID, userID)
		}
		return nil

	case ActionRemoveParticipant:
		if err := s.db.DeleteParticipant(ctx, conversationID, userID); err != nil {
			return fmt.Errorf("sender: delete participant: %w", err)
		}
		if err := s.db.DeleteParticipantSession(ctx, conversationID, userID); err != nil {
			return fmt.Errorf("sender: delete participant session: %w", err)
		}
		return s.db.ClearSentToServer(ctx, conversationID)

	case ActionAddParticipant:
		return s.syncer.RefreshSession(ctx, conversationID, []string{userID})

	default:
		return fmt.Errorf("sender: unknown participant action %d", action)
	}
}
