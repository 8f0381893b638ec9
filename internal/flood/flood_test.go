package flood

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftline/msgcore/internal/api"
	"github.com/riftline/msgcore/internal/store"
	"github.com/riftline/msgcore/internal/store/memstore"
	"github.com/riftline/msgcore/internal/sync"
)

type fakeAcker struct {
	acks []store.MessageStatus
	jobs []string
}

func (f *fakeAcker) EnqueueAck(ctx context.Context, messageID string, status store.MessageStatus) error {
	f.acks = append(f.acks, status)
	return nil
}

func (f *fakeAcker) Enqueue(ctx context.Context, action, conversationID string, payload interface{}) error {
	f.jobs = append(f.jobs, action)
	return nil
}

func newTestPipeline(db store.Store, acker Acker) *Pipeline {
	syncer := sync.New(noopSyncClient{}, db, "local-user")
	return New(db, syncer, nil, acker, "local-user", nil)
}

type noopSyncClient struct{}

func (noopSyncClient) GetUser(ctx context.Context, userID string) (*api.UserProfile, error) {
	return &api.UserProfile{UserID: userID}, nil
}

func (noopSyncClient) FetchUsers(ctx context.Context, ids []string) ([]*api.UserProfile, error) {
	out := make([]*api.UserProfile, 0, len(ids))
	for _, id := range ids {
		out = append(out, &api.UserProfile{UserID: id})
	}
	return out, nil
}

func (noopSyncClient) GetConversation(ctx context.Context, conversationID string) (*api.ConversationPayload, error) {
	return &api.ConversationPayload{ConversationID: conversationID}, nil
}

func (noopSyncClient) FetchSessions(ctx context.Context, userIDs []string) ([]*api.SessionPayload, error) {
	return nil, nil
}

func TestCategoryPredicates(t *testing.T) {
	assert.True(t, isPlain("PLAIN_TEXT"))
	assert.True(t, isSystem("SYSTEM_CONVERSATION"))
	assert.True(t, isEncrypted("ENCRYPTED_TEXT"))
	assert.True(t, isSignal("SIGNAL_TEXT"))
	assert.True(t, isCall("WEBRTC_AUDIO_OFFER"))
	assert.True(t, isCall("KRAKEN_PUBLISH"))
	assert.True(t, isRecall("MESSAGE_RECALL"))
	assert.True(t, isPin("MESSAGE_PIN"))
	assert.False(t, isIllegalMessageCategory("PLAIN_TEXT"))
	assert.True(t, isIllegalMessageCategory("SOMETHING_UNKNOWN"))
}

func TestProcessOne_ExistingMessageAcksDeliveredAndDeletes(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	require.NoError(t, db.UpsertMessage(ctx, &store.Message{MessageID: "m1"}))

	data := &Data{MessageID: "m1", ConversationID: "", Category: "PLAIN_TEXT"}
	raw, _ := json.Marshal(data)
	require.NoError(t, db.InsertFloodMessage(ctx, &store.FloodMessage{MessageID: "m1", Data: raw, CreatedAt: time.Now()}))

	acker := &fakeAcker{}
	p := newTestPipeline(db, acker)

	fm, err := db.Oldest(ctx, 1)
	require.NoError(t, err)
	require.Len(t, fm, 1)

	require.NoError(t, p.processOne(ctx, fm[0]))
	require.Len(t, acker.acks, 1)
	assert.Equal(t, store.StatusDelivered, acker.acks[0])

	remaining, err := db.Oldest(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestProcessOne_IllegalCategoryUsesEnvelopeStatus(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()

	data := &Data{MessageID: "m2", Category: "NOT_A_REAL_CATEGORY", Status: "read", UserID: "u1"}
	raw, _ := json.Marshal(data)
	require.NoError(t, db.InsertFloodMessage(ctx, &store.FloodMessage{MessageID: "m2", Data: raw, CreatedAt: time.Now()}))

	acker := &fakeAcker{}
	p := newTestPipeline(db, acker)

	fm, err := db.Oldest(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, p.processOne(ctx, fm[0]))

	require.Len(t, acker.acks, 1)
	assert.Equal(t, store.StatusRead, acker.acks[0])

	msg, err := db.GetMessage(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, "NOT_A_REAL_CATEGORY", msg.Category)
}

func TestProcessPin_PinThenUnpin(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	require.NoError(t, db.UpsertMessage(ctx, &store.Message{MessageID: "target", Category: "PLAIN_TEXT", Content: "hi"}))

	pinPayload, _ := json.Marshal(map[string]interface{}{"action": "PIN", "message_ids": []string{"target"}})
	data := &Data{MessageID: "pin1", ConversationID: "c1", UserID: "u1", Category: "MESSAGE_PIN",
		Data: base64.StdEncoding.EncodeToString(pinPayload), CreatedAt: time.Now()}

	p := newTestPipeline(db, &fakeAcker{})
	require.NoError(t, p.processPin(ctx, data))

	msg, err := db.GetMessage(ctx, "pin1")
	require.NoError(t, err)
	assert.Equal(t, "target", msg.QuoteMessageID)

	unpinPayload, _ := json.Marshal(map[string]interface{}{"action": "UNPIN", "message_ids": []string{"target"}})
	data2 := &Data{MessageID: "unpin1", ConversationID: "c1", UserID: "u1", Category: "MESSAGE_PIN",
		Data: base64.StdEncoding.EncodeToString(unpinPayload), CreatedAt: time.Now()}
	require.NoError(t, p.processPin(ctx, data2))
}

func TestMarkMessageStatus_ReadMarksMentionRead(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	require.NoError(t, db.UpsertMessage(ctx, &store.Message{MessageID: "m1"}))
	mention := &store.MessageMention{MessageID: "m1", ConversationID: "c1"}
	require.NoError(t, db.UpsertMention(ctx, mention))

	p := newTestPipeline(db, &fakeAcker{})
	require.NoError(t, p.markMessageStatus(ctx, map[string]store.MessageStatus{"m1": store.StatusRead}))

	msg, err := db.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRead, msg.Status)
	assert.True(t, mention.HasRead)
}

// mentionRecorder records every mention written through it.
type mentionRecorder struct {
	store.Store
	mentions []*store.MessageMention
}

func (r *mentionRecorder) UpsertMention(ctx context.Context, m *store.MessageMention) error {
	r.mentions = append(r.mentions, m)
	return r.Store.UpsertMention(ctx, m)
}

func TestExtractMention_SelfSentNeverMentions(t *testing.T) {
	db := &mentionRecorder{Store: memstore.New()}
	require.NoError(t, db.UpsertUser(context.Background(), &store.User{UserID: "local-user", IdentityNumber: "1000"}))
	p := newTestPipeline(db, &fakeAcker{})

	err := p.extractMention(context.Background(), &store.Message{
		MessageID: "m1", ConversationID: "c1", UserID: "local-user", Content: "@1000 hi",
	})
	require.NoError(t, err)

	assert.Empty(t, db.mentions)
}

func TestGenerateUniqueObjectID_OrderIndependent(t *testing.T) {
	a := generateUniqueObjectID([]string{"a", "b"})
	b := generateUniqueObjectID([]string{"b", "a"})
	assert.Equal(t, a, b)
}
