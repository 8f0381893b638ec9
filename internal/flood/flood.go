// Package flood drives the flood pipeline: the loop that drains queued,
// undecrypted inbound envelopes, classifies each by category, materializes
// it into the local store, and schedules the matching acknowledgement.
package flood

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/riftline/msgcore/internal/compose"
	"github.com/riftline/msgcore/internal/jobs"
	"github.com/riftline/msgcore/internal/logger"
	"github.com/riftline/msgcore/internal/metrics"
	"github.com/riftline/msgcore/internal/signalengine"
	"github.com/riftline/msgcore/internal/store"
	"github.com/riftline/msgcore/internal/sync"
)

// sweepInterval is the pause between sweeps of the flood queue.
const sweepInterval = time.Second

// sweepSize is how many oldest flood messages are drained per sweep.
const sweepSize = 10

// categorySignalKey carries a sender-key distribution, not user content.
const categorySignalKey = "SIGNAL_KEY"

// allowedCategories is the fixed allow-list is_illegal_message_category is
// the complement of.
var allowedCategories = map[string]bool{
	"SIGNAL_KEY": true, "PLAIN_JSON": true, "PLAIN_TEXT": true, "PLAIN_IMAGE": true,
	"PLAIN_VIDEO": true, "PLAIN_DATA": true, "PLAIN_AUDIO": true, "PLAIN_CONTACT": true,
	"PLAIN_STICKER": true, "PLAIN_LIVE": true, "PLAIN_POST": true, "PLAIN_LOCATION": true,
	"PLAIN_TRANSCRIPT": true,
	"SIGNAL_TEXT": true, "SIGNAL_IMAGE": true, "SIGNAL_VIDEO": true, "SIGNAL_DATA": true,
	"SIGNAL_AUDIO": true, "SIGNAL_CONTACT": true, "SIGNAL_STICKER": true, "SIGNAL_LIVE": true,
	"SIGNAL_POST": true, "SIGNAL_LOCATION": true, "SIGNAL_TRANSCRIPT": true,
	"ENCRYPTED_TEXT": true, "ENCRYPTED_IMAGE": true, "ENCRYPTED_VIDEO": true,
	"ENCRYPTED_DATA": true, "ENCRYPTED_AUDIO": true, "ENCRYPTED_CONTACT": true,
	"ENCRYPTED_STICKER": true, "ENCRYPTED_LIVE": true, "ENCRYPTED_POST": true,
	"ENCRYPTED_LOCATION": true, "ENCRYPTED_TRANSCRIPT": true,
	"SYSTEM_CONVERSATION": true, "SYSTEM_USER": true, "SYSTEM_CIRCLE": true,
	"SYSTEM_ACCOUNT_SNAPSHOT": true, "SYSTEM_SAFE_SNAPSHOT": true, "SYSTEM_SAFE_INSCRIPTION": true,
	"APP_CARD": true, "APP_BUTTON_GROUP": true,
	"MESSAGE_PIN": true, "MESSAGE_RECALL": true,
	"WEBRTC_AUDIO_OFFER": true, "KRAKEN_PUBLISH": true,
}

func isPlain(c string) bool      { return strings.HasPrefix(c, "PLAIN_") }
func isSystem(c string) bool     { return strings.HasPrefix(c, "SYSTEM_") }
func isEncrypted(c string) bool  { return strings.HasPrefix(c, "ENCRYPTED_") }
func isSignal(c string) bool     { return strings.HasPrefix(c, "SIGNAL_") }
func isCall(c string) bool       { return strings.HasPrefix(c, "WEBRTC") || strings.HasPrefix(c, "KRAKEN") }
func isRecall(c string) bool     { return c == "MESSAGE_RECALL" }
func isPin(c string) bool        { return c == "MESSAGE_PIN" }
func isAppCard(c string) bool    { return c == "APP_CARD" }
func isAppButtons(c string) bool { return c == "APP_BUTTON_GROUP" }
func isLocation(c string) bool   { return strings.HasSuffix(c, "LOCATION") }

func isIllegalMessageCategory(c string) bool { return !allowedCategories[c] }

// Data is the decoded payload of a FloodMessage.
type Data struct {
	ConversationID   string          `json:"conversation_id"`
	UserID           string          `json:"user_id"`
	SessionID        string          `json:"session_id"`
	MessageID        string          `json:"message_id"`
	Category         string          `json:"category"`
	Data             string          `json:"data"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	QuoteMessageID    string         `json:"quote_message_id"`
	RepresentativeID string          `json:"representative_id"`
	ExpireIn         int64           `json:"expire_in"`
	Action           json.RawMessage `json:"action"`
}

func parseFloodData(raw []byte) (*Data, error) {
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("flood: decode flood data: %w", err)
	}
	if d.MessageID == "" {
		return nil, fmt.Errorf("flood: flood data missing message_id")
	}
	return &d, nil
}

// Acker enqueues an outbound acknowledgement job and schedules generic
// outbound work for the job service's other categories.
type Acker interface {
	EnqueueAck(ctx context.Context, messageID string, status store.MessageStatus) error
	Enqueue(ctx context.Context, action, conversationID string, payload interface{}) error
}

// Pipeline drains and materializes the flood queue.
type Pipeline struct {
	db        store.Store
	syncer    *sync.Syncer
	engine    *signalengine.Engine
	acker     Acker
	localUser string
	log       logger.Logger
}

// New builds a Pipeline.
func New(db store.Store, syncer *sync.Syncer, engine *signalengine.Engine, acker Acker, localUserID string, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Pipeline{db: db, syncer: syncer, engine: engine, acker: acker, localUser: localUserID, log: log}
}

// scheduleJob enqueues a generic outbound job for action in conversationID,
// ignoring the request when the pipeline has no job service attached.
func (p *Pipeline) scheduleJob(ctx context.Context, action, conversationID string, payload interface{}) error {
	if p.acker == nil {
		return nil
	}
	return p.acker.Enqueue(ctx, action, conversationID, payload)
}

// Loop drains the flood queue forever, sleeping sweepInterval between
// sweeps. Any per-sweep error is logged; the loop never exits on its own.
func (p *Pipeline) Loop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		msgs, err := p.db.Oldest(ctx, sweepSize)
		if err != nil {
			p.log.Error("flood: fetch oldest failed", logger.Error(err))
		} else {
			metrics.FloodQueueDepth.Set(float64(len(msgs)))
			for _, fm := range msgs {
				if err := p.processOne(ctx, fm); err != nil {
					p.log.Error("flood: process one failed", logger.String("message_id", fm.MessageID), logger.Error(err))
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) processOne(ctx context.Context, fm *store.FloodMessage) error {
	start := time.Now()
	metrics.FloodMessageSize.Observe(float64(len(fm.Data)))
	category := "unknown"
	outcome := "success"
	defer func() {
		metrics.FloodProcessingDuration.Observe(time.Since(start).Seconds())
		metrics.FloodMessagesProcessed.WithLabelValues(category, outcome).Inc()
	}()

	data, err := parseFloodData(fm.Data)
	if err != nil {
		outcome = "failure"
		p.handleInvalidMessage(ctx, fm, err)
		return p.ackAndDelete(ctx, fm.MessageID, store.StatusDelivered, fm)
	}
	category = data.Category

	if exists, err := p.db.MessageExists(ctx, data.MessageID); err == nil && exists {
		return p.ackAndDelete(ctx, data.MessageID, store.StatusDelivered, fm)
	}

	status, err := p.parse(ctx, data)
	if err != nil {
		outcome = "failure"
		p.handleInvalidMessage(ctx, fm, err)
		status = store.StatusDelivered
		if isLocation(data.Category) {
			status = store.StatusRead
		}
	}
	return p.ackAndDelete(ctx, data.MessageID, status, fm)
}

func (p *Pipeline) ackAndDelete(ctx context.Context, messageID string, status store.MessageStatus, fm *store.FloodMessage) error {
	if p.acker != nil {
		if err := p.acker.EnqueueAck(ctx, messageID, status); err != nil {
			return fmt.Errorf("flood: enqueue ack: %w", err)
		}
	}
	return p.db.DeleteFloodMessage(ctx, fm.MessageID)
}

func (p *Pipeline) handleInvalidMessage(ctx context.Context, fm *store.FloodMessage, cause error) {
	p.log.Warn("flood: invalid message", logger.String("message_id", fm.MessageID), logger.Error(cause))
	_ = p.db.MarkProcessed(ctx, fm.MessageID)
}

// parse dispatches data by category, materializing it into the store and
// returning the ack status the caller should enqueue.
func (p *Pipeline) parse(ctx context.Context, data *Data) (store.MessageStatus, error) {
	if err := p.syncer.SyncConversation(ctx, data.ConversationID); err != nil {
		return "", fmt.Errorf("flood: sync conversation: %w", err)
	}

	switch {
	case isIllegalMessageCategory(data.Category):
		if err := p.insertMessage(ctx, data, &store.Message{
			MessageID:      data.MessageID,
			ConversationID: data.ConversationID,
			UserID:         data.UserID,
			Category:       data.Category,
			Status:         store.MessageStatus(strings.ToUpper(data.Status)),
			CreatedAt:      data.CreatedAt,
		}); err != nil {
			return "", err
		}
		return store.MessageStatus(strings.ToUpper(data.Status)), nil

	case data.Category == categorySignalKey:
		if err := p.db.MarkProcessed(ctx, data.MessageID); err != nil {
			return "", err
		}
		if err := p.processSignalMessage(ctx, data); err != nil {
			return "", err
		}
		return store.StatusRead, nil

	case isSignal(data.Category):
		if err := p.processSignalMessage(ctx, data); err != nil {
			return "", err
		}
		return store.StatusDelivered, nil

	case isPlain(data.Category):
		if err := p.processPlainMessage(ctx, data); err != nil {
			return "", err
		}
		return store.StatusDelivered, nil

	case isEncrypted(data.Category):
		return store.StatusDelivered, nil

	case isSystem(data.Category):
		if err := p.processSystemMessage(ctx, data); err != nil {
			return "", err
		}
		return store.StatusRead, nil

	case isAppCard(data.Category):
		if err := p.processAppCard(ctx, data); err != nil {
			return "", err
		}
		return store.StatusDelivered, nil

	case isAppButtons(data.Category):
		raw, _ := base64.StdEncoding.DecodeString(data.Data)
		if err := p.insertMessage(ctx, data, &store.Message{
			MessageID:      data.MessageID,
			ConversationID: data.ConversationID,
			UserID:         data.UserID,
			Category:       data.Category,
			Content:        string(raw),
			Status:         store.StatusDelivered,
			CreatedAt:      data.CreatedAt,
		}); err != nil {
			return "", err
		}
		return store.StatusDelivered, nil

	case isPin(data.Category):
		if err := p.processPin(ctx, data); err != nil {
			return "", err
		}
		return store.StatusRead, nil

	case isRecall(data.Category):
		return store.StatusRead, nil

	case isCall(data.Category):
		return store.StatusDelivered, nil

	default:
		return "", fmt.Errorf("flood: unhandled category %q", data.Category)
	}
}

func (p *Pipeline) insertMessage(ctx context.Context, data *Data, m *store.Message) error {
	if err := p.db.UpsertMessage(ctx, m); err != nil {
		return fmt.Errorf("flood: insert message: %w", err)
	}
	if data.ExpireIn > 0 && m.UserID == p.localUser {
		expireAt := m.CreatedAt.Add(time.Duration(data.ExpireIn) * time.Second)
		if err := p.db.UpsertEarliestExpiration(ctx, m.MessageID, expireAt); err != nil {
			return fmt.Errorf("flood: upsert expiration: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) processSignalMessage(ctx context.Context, data *Data) error {
	msg, err := compose.Decode(data.Data)
	if err != nil {
		return fmt.Errorf("flood: decode compose message: %w", err)
	}

	var sessionID *uuid.UUID
	if data.SessionID != "" {
		if sid, err := uuid.Parse(data.SessionID); err == nil {
			sessionID = &sid
		}
	}

	plaintext, err := p.engine.Decrypt(ctx, data.ConversationID, data.UserID, msg.KeyType, msg.Cipher, data.Category, sessionID)
	if err != nil {
		metrics.FloodDecryptFailures.WithLabelValues(decryptFailureReason(err)).Inc()
		return fmt.Errorf("flood: decrypt: %w", err)
	}
	if data.Category == categorySignalKey {
		return nil
	}

	if msg.ResendMessageID != "" {
		return p.processReDecryptedMessage(ctx, data, msg.ResendMessageID, plaintext)
	}
	return p.processDecryptSuccess(ctx, data, plaintext)
}

// decryptFailureReason classifies a Signal decrypt error for the
// FloodDecryptFailures reason label.
func decryptFailureReason(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no session"):
		return "no_session"
	case strings.Contains(msg, "duplicate"):
		return "duplicate"
	case strings.Contains(msg, "mac"):
		return "bad_mac"
	case strings.Contains(msg, "untrusted"):
		return "untrusted_identity"
	default:
		return "other"
	}
}

func (p *Pipeline) processReDecryptedMessage(ctx context.Context, data *Data, resendMessageID string, plaintext []byte) error {
	existing, err := p.db.GetMessage(ctx, resendMessageID)
	if err != nil {
		return fmt.Errorf("flood: resend target %s not found: %w", resendMessageID, err)
	}
	existing.Content = string(plaintext)
	existing.Status = store.StatusSent
	return p.db.UpsertMessage(ctx, existing)
}

func (p *Pipeline) processDecryptSuccess(ctx context.Context, data *Data, plaintext []byte) error {
	if _, err := p.syncer.RefreshUser(ctx, []string{data.UserID}, false); err != nil {
		return fmt.Errorf("flood: refresh sender: %w", err)
	}

	m := &store.Message{
		MessageID:      data.MessageID,
		ConversationID: data.ConversationID,
		UserID:         data.UserID,
		Category:       data.Category,
		Content:        string(plaintext),
		Status:         store.StatusDelivered,
		CreatedAt:      data.CreatedAt,
		QuoteMessageID: data.QuoteMessageID,
	}
	if strings.HasSuffix(data.Category, "LOCATION") {
		var loc struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		}
		if err := json.Unmarshal(plaintext, &loc); err == nil && loc.Latitude == 0 && loc.Longitude == 0 {
			return fmt.Errorf("flood: zero-valued location is invalid")
		}
	}
	if strings.HasSuffix(data.Category, "_DATA") || strings.HasSuffix(data.Category, "_IMAGE") ||
		strings.HasSuffix(data.Category, "_VIDEO") || strings.HasSuffix(data.Category, "_AUDIO") {
		var att struct {
			MimeType string `json:"mime_type"`
			Size     int64  `json:"size"`
		}
		_ = json.Unmarshal(plaintext, &att)
		m.MediaStatus = "CANCELED"
		m.MediaMimeType = att.MimeType
		m.MediaSize = att.Size
	}
	if strings.HasSuffix(data.Category, "STICKER") {
		if err := p.stickerSubPolicy(ctx, data.ConversationID, plaintext); err != nil {
			return err
		}
	}

	if err := p.insertMessage(ctx, data, m); err != nil {
		return err
	}

	if strings.HasSuffix(data.Category, "TEXT") {
		if err := p.extractMention(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// extractMention upserts a MessageMention when m either quotes the local
// user or contains "@" + the local user's identity number from someone
// else.
func (p *Pipeline) extractMention(ctx context.Context, m *store.Message) error {
	localUser, err := p.db.GetUser(ctx, p.localUser)
	if err != nil || localUser == nil || localUser.IdentityNumber == "" {
		return nil
	}

	hasMention := false
	if m.QuoteMessageID != "" {
		if quote, err := p.db.GetMessage(ctx, m.QuoteMessageID); err == nil && quote.UserID == p.localUser {
			if quoteUser, err := p.db.GetUser(ctx, quote.UserID); err == nil && quoteUser != nil &&
				quoteUser.IdentityNumber == localUser.IdentityNumber {
				hasMention = true
			}
		}
	}
	if !hasMention && m.UserID != p.localUser && strings.Contains(m.Content, "@"+localUser.IdentityNumber) {
		hasMention = true
	}
	if !hasMention {
		return nil
	}
	return p.db.UpsertMention(ctx, &store.MessageMention{
		MessageID:      m.MessageID,
		ConversationID: m.ConversationID,
		HasRead:        false,
	})
}

// stickerSubPolicy schedules a LOCAL_UPDATE_STICKER job when the sticker
// carried by plaintext is unknown locally or its cached album id is empty.
func (p *Pipeline) stickerSubPolicy(ctx context.Context, conversationID string, plaintext []byte) error {
	var sticker struct {
		StickerID string `json:"sticker_id"`
		AlbumID   string `json:"album_id"`
	}
	if err := json.Unmarshal(plaintext, &sticker); err != nil || sticker.StickerID == "" {
		return nil
	}

	known, err := p.db.GetSticker(ctx, sticker.StickerID)
	if err == nil && known != nil && known.AlbumID != "" {
		return nil
	}
	return p.scheduleJob(ctx, jobs.ActionLocalUpdateSticker, conversationID, map[string]string{
		"sticker_id": sticker.StickerID,
	})
}

type plainJSONBody struct {
	Action      string   `json:"action"`
	MessageID   string   `json:"message_id"`
	AckMessages []ackRow `json:"ack_messages"`
	Messages    []string `json:"messages"`
}

type ackRow struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (p *Pipeline) processPlainMessage(ctx context.Context, data *Data) error {
	raw, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		return fmt.Errorf("flood: decode plain message: %w", err)
	}

	if data.Category == "PLAIN_JSON" {
		var body plainJSONBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return fmt.Errorf("flood: decode plain json: %w", err)
		}
		switch body.Action {
		case "ACKNOWLEDGE_MESSAGE_RECEIPTS":
			acks := make(map[string]store.MessageStatus, len(body.AckMessages))
			for _, a := range body.AckMessages {
				acks[a.MessageID] = store.MessageStatus(strings.ToUpper(a.Status))
			}
			if err := p.markMessageStatus(ctx, acks); err != nil {
				return err
			}
		case "RESEND_MESSAGES":
			participants, err := p.db.ListParticipants(ctx, data.ConversationID)
			if err != nil {
				return err
			}
			present := false
			for _, participant := range participants {
				if participant.UserID == data.UserID {
					present = true
					break
				}
			}
			if present {
				for _, messageID := range body.Messages {
					if err := p.scheduleJob(ctx, jobs.ActionSendingMessage, data.ConversationID, map[string]string{
						"message_id": messageID,
					}); err != nil {
						return err
					}
				}
			}
		case "RESEND_KEY":
			if has, _ := p.db.HasSession(ctx, data.UserID, signalengine.DeviceID(nil)); !has {
				break
			}
		}
		return p.db.MarkProcessed(ctx, data.MessageID)
	}

	return p.processDecryptSuccess(ctx, data, raw)
}

// markMessageStatus applies mention-read and status updates for a batch of
// acks. It does not separately partition a with-expires set: ackRow carries
// no expire field, so every read collapses to update_expired=true.
func (p *Pipeline) markMessageStatus(ctx context.Context, acks map[string]store.MessageStatus) error {
	for messageID, status := range acks {
		if status == store.StatusRead {
			if err := p.db.MarkMentionRead(ctx, messageID); err != nil {
				return fmt.Errorf("flood: mark mention read: %w", err)
			}
		}
		if err := p.db.UpdateMessageStatus(ctx, messageID, status); err != nil {
			return fmt.Errorf("flood: update message status: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) processAppCard(ctx context.Context, data *Data) error {
	var card struct {
		AppID     string `json:"app_id"`
		UpdatedAt string `json:"updated_at"`
	}
	raw, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		return fmt.Errorf("flood: decode app card: %w", err)
	}
	if err := json.Unmarshal(raw, &card); err != nil {
		return fmt.Errorf("flood: parse app card: %w", err)
	}

	if _, err := p.syncer.RefreshUser(ctx, []string{data.UserID}, false); err != nil {
		return err
	}
	if existing, err := p.db.GetApp(ctx, card.AppID); err != nil || existing.UpdatedAt.String() != card.UpdatedAt {
		_ = p.db.UpsertApp(ctx, &store.App{AppID: card.AppID, Data: raw})
	}

	return p.insertMessage(ctx, data, &store.Message{
		MessageID:      data.MessageID,
		ConversationID: data.ConversationID,
		UserID:         data.UserID,
		Category:       data.Category,
		Content:        string(raw),
		Status:         store.StatusDelivered,
		CreatedAt:      data.CreatedAt,
	})
}

// pinMessageMinimal is the snapshot of a pinned message carried as the
// MESSAGE_PIN bookkeeping row's content.
type pinMessageMinimal struct {
	Category  string  `json:"type"`
	MessageID string  `json:"message_id"`
	Content   *string `json:"content"`
}

func (p *Pipeline) processPin(ctx context.Context, data *Data) error {
	var payload struct {
		Action string   `json:"action"`
		IDs    []string `json:"message_ids"`
	}
	raw, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		return fmt.Errorf("flood: decode pin payload: %w", err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("flood: parse pin payload: %w", err)
	}

	if strings.EqualFold(payload.Action, "UNPIN") {
		for _, id := range payload.IDs {
			if err := p.db.DeletePin(ctx, data.ConversationID, id); err != nil {
				return err
			}
		}
		return p.db.MarkProcessed(ctx, data.MessageID)
	}

	for i, id := range payload.IDs {
		msg, err := p.db.GetMessage(ctx, id)
		if err != nil {
			continue
		}
		if err := p.db.UpsertPin(ctx, &store.PinMessage{ConversationID: data.ConversationID, MessageID: id, CreatedAt: data.CreatedAt}); err != nil {
			return err
		}

		bookkeepingID := data.MessageID
		if i > 0 {
			bookkeepingID = uuid.NewString()
		}
		minimal := pinMessageMinimal{Category: msg.Category, MessageID: msg.MessageID}
		if msg.Category == "PLAIN_TEXT" {
			minimal.Content = &msg.Content
		}
		content, err := json.Marshal(minimal)
		if err != nil {
			return fmt.Errorf("flood: marshal pin snapshot: %w", err)
		}
		if err := p.insertMessage(ctx, data, &store.Message{
			MessageID:      bookkeepingID,
			ConversationID: data.ConversationID,
			UserID:         data.UserID,
			Category:       "MESSAGE_PIN",
			QuoteMessageID: id,
			Content:        string(content),
			Status:         store.StatusRead,
			CreatedAt:      data.CreatedAt,
		}); err != nil {
			return err
		}
	}
	return p.db.MarkProcessed(ctx, data.MessageID)
}

// processSystemMessage implements §4.J.7.
func (p *Pipeline) processSystemMessage(ctx context.Context, data *Data) error {
	switch data.Category {
	case "SYSTEM_CONVERSATION":
		return p.processSystemConversation(ctx, data)
	case "SYSTEM_USER":
		return p.processSystemUser(ctx, data)
	case "SYSTEM_CIRCLE":
		return p.processSystemCircle(ctx, data)
	case "SYSTEM_ACCOUNT_SNAPSHOT", "SYSTEM_SAFE_SNAPSHOT", "SYSTEM_SAFE_INSCRIPTION":
		return p.processSystemSnapshot(ctx, data)
	default:
		return fmt.Errorf("flood: unhandled system category %q", data.Category)
	}
}

type systemConversationPayload struct {
	Action        string `json:"action"`
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
	ExpireIn      int64  `json:"expire_in"`
}

func (p *Pipeline) processSystemConversation(ctx context.Context, data *Data) error {
	raw, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		return fmt.Errorf("flood: decode system conversation payload: %w", err)
	}
	var payload systemConversationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("flood: parse system conversation payload: %w", err)
	}

	content := ""
	switch payload.Action {
	case "JOIN", "ADD":
		if err := p.db.ReplaceParticipants(ctx, data.ConversationID, append(mustListParticipants(ctx, p.db, data.ConversationID), &store.Participant{
			ConversationID: data.ConversationID, UserID: payload.ParticipantID, CreatedAt: data.CreatedAt,
		})); err != nil {
			return err
		}
		if payload.ParticipantID == p.localUser {
			if _, err := p.syncer.RefreshConversation(ctx, data.ConversationID); err != nil {
				return err
			}
		} else if has, _ := p.db.HasSenderKey(ctx, data.ConversationID, p.localUser, signalengine.DeviceID(nil)); has {
			if _, err := p.syncer.RefreshUser(ctx, []string{payload.ParticipantID}, false); err != nil {
				return err
			}
		} else {
			if err := p.syncer.RefreshSession(ctx, data.ConversationID, []string{payload.ParticipantID}); err != nil {
				return err
			}
			if _, err := p.syncer.RefreshUser(ctx, []string{payload.ParticipantID}, false); err != nil {
				return err
			}
		}

	case "REMOVE", "EXIT":
		if payload.ParticipantID == p.localUser {
			if err := p.db.SetConversationStatus(ctx, data.ConversationID, store.ConversationQuit); err != nil {
				return err
			}
		} else {
			if _, err := p.syncer.RefreshUser(ctx, []string{payload.ParticipantID}, false); err != nil {
				return err
			}
		}
		if err := p.db.DeleteParticipant(ctx, data.ConversationID, payload.ParticipantID); err != nil {
			return err
		}

	case "UPDATE":
		if payload.ParticipantID != "" {
			if _, err := p.syncer.RefreshUser(ctx, []string{payload.ParticipantID}, true); err != nil {
				return err
			}
		} else if _, err := p.syncer.RefreshConversation(ctx, data.ConversationID); err != nil {
			return err
		}

	case "ROLE":
		if payload.ParticipantID != p.localUser || payload.Role == "" {
			return nil
		}

	case "EXPIRE":
		if err := p.db.SetConversationExpireIn(ctx, data.ConversationID, payload.ExpireIn); err != nil {
			return err
		}
		content = fmt.Sprintf("%d", payload.ExpireIn)
	}

	return p.insertMessage(ctx, data, &store.Message{
		MessageID:      data.MessageID,
		ConversationID: data.ConversationID,
		UserID:         data.UserID,
		Category:       data.Category,
		Action:         payload.Action,
		Content:        content,
		Status:         store.StatusDelivered,
		CreatedAt:      data.CreatedAt,
	})
}

func mustListParticipants(ctx context.Context, db store.Store, cid string) []*store.Participant {
	ps, _ := db.ListParticipants(ctx, cid)
	return ps
}

func (p *Pipeline) processSystemUser(ctx context.Context, data *Data) error {
	var payload struct {
		Action string `json:"action"`
	}
	raw, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if payload.Action == "UPDATE" {
		_, err := p.syncer.RefreshUser(ctx, []string{data.UserID}, true)
		return err
	}
	return nil
}

func (p *Pipeline) processSystemCircle(ctx context.Context, data *Data) error {
	var payload struct {
		Action         string `json:"action"`
		CircleID       string `json:"circle_id"`
		ConversationID string `json:"conversation_id"`
		Name           string `json:"name"`
	}
	raw, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}

	switch payload.Action {
	case "CREATE", "UPDATE":
		return p.db.UpsertCircle(ctx, &store.Circle{CircleID: payload.CircleID, Name: payload.Name, CreatedAt: data.CreatedAt})
	case "ADD":
		if _, err := p.syncer.RefreshUser(ctx, []string{data.UserID}, false); err != nil {
			return err
		}
		cid := payload.ConversationID
		if cid == "" {
			ids := []string{p.localUser, data.UserID}
			cid = generateUniqueObjectID(ids)
		}
		return p.db.UpsertCircleConversation(ctx, &store.CircleConversation{CircleID: payload.CircleID, ConversationID: cid})
	case "REMOVE":
		return p.db.DeleteCircleConversation(ctx, payload.CircleID, payload.ConversationID)
	case "DELETE":
		return p.db.DeleteCircle(ctx, payload.CircleID)
	}
	return nil
}

func generateUniqueObjectID(ids []string) string {
	sorted := append([]string(nil), ids...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j] < sorted[i] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	return uuid.NewMD5(uuid.Nil, []byte(strings.Join(sorted, ""))).String()
}

func (p *Pipeline) processSystemSnapshot(ctx context.Context, data *Data) error {
	var payload struct {
		SnapshotID      string `json:"snapshot_id"`
		TransactionHash string `json:"transaction_hash"`
	}
	raw, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}

	if data.Category == "SYSTEM_ACCOUNT_SNAPSHOT" {
		if err := p.db.UpsertSnapshot(ctx, &store.Snapshot{SnapshotID: payload.SnapshotID, Data: raw, CreatedAt: data.CreatedAt}); err != nil {
			return err
		}
		if err := p.scheduleJob(ctx, jobs.ActionLocalUpdateAsset, data.ConversationID, map[string]string{
			"snapshot_id": payload.SnapshotID,
		}); err != nil {
			return err
		}
	} else {
		if payload.TransactionHash != "" {
			if err := p.db.DeleteSafeSnapshotByTxHash(ctx, payload.TransactionHash); err != nil {
				return err
			}
		}
		if err := p.db.UpsertSafeSnapshot(ctx, &store.SafeSnapshot{SnapshotID: payload.SnapshotID, TransactionHash: payload.TransactionHash, Data: raw, CreatedAt: data.CreatedAt}); err != nil {
			return err
		}
		if data.Category == "SYSTEM_SAFE_INSCRIPTION" {
			if err := p.scheduleJob(ctx, jobs.ActionLocalSyncInscriptionMsg, data.ConversationID, map[string]string{
				"snapshot_id": payload.SnapshotID,
			}); err != nil {
				return err
			}
		}
	}

	return p.insertMessage(ctx, data, &store.Message{
		MessageID:      data.MessageID,
		ConversationID: data.ConversationID,
		UserID:         data.UserID,
		Category:       data.Category,
		SnapshotID:     payload.SnapshotID,
		Status:         store.StatusDelivered,
		CreatedAt:      data.CreatedAt,
	})
}
