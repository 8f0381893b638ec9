package sender

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftline/msgcore/internal/api"
	"github.com/riftline/msgcore/internal/envelope"
	"github.com/riftline/msgcore/internal/store"
	"github.com/riftline/msgcore/internal/store/memstore"
	"github.com/riftline/msgcore/internal/sync"
)

type fakeLink struct {
	replies []*envelope.Envelope
	errs    []error
	calls   int
}

func (f *fakeLink) SendMessage(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return &envelope.Envelope{ID: env.ID, Action: env.Action}, nil
}

// emptySyncClient answers every sync request with empty data.
type emptySyncClient struct{}

func (emptySyncClient) GetUser(ctx context.Context, userID string) (*api.UserProfile, error) {
	return &api.UserProfile{UserID: userID}, nil
}

func (emptySyncClient) FetchUsers(ctx context.Context, ids []string) ([]*api.UserProfile, error) {
	return nil, nil
}

func (emptySyncClient) GetConversation(ctx context.Context, conversationID string) (*api.ConversationPayload, error) {
	return &api.ConversationPayload{ConversationID: conversationID}, nil
}

func (emptySyncClient) FetchSessions(ctx context.Context, userIDs []string) ([]*api.SessionPayload, error) {
	return nil, nil
}

func newTestSender(l link) *Sender {
	db := memstore.New()
	syncer := sync.New(emptySyncClient{}, db, "local-user")
	return New(l, nil, db, syncer, "local-user", nil)
}

func TestDeliver_SuccessNoError(t *testing.T) {
	l := &fakeLink{replies: []*envelope.Envelope{{ID: "1"}}}
	s := newTestSender(l)

	res, err := s.Deliver(context.Background(), "c1", &envelope.Envelope{ID: "1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, l.calls)
}

func TestDeliver_ForbiddenIsPermanent(t *testing.T) {
	l := &fakeLink{replies: []*envelope.Envelope{
		{ID: "1", Error: &envelope.ServerError{Code: codeForbidden}},
	}}
	s := newTestSender(l)

	res, err := s.Deliver(context.Background(), "c1", &envelope.Envelope{ID: "1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.Retry)
	assert.Equal(t, codeForbidden, res.Code)
}

func TestDeliver_ChecksumInvalidRequestsRetry(t *testing.T) {
	l := &fakeLink{replies: []*envelope.Envelope{
		{ID: "1", Error: &envelope.ServerError{Code: codeConversationChecksumInvalid}},
	}}
	s := newTestSender(l)

	res, err := s.Deliver(context.Background(), "c1", &envelope.Envelope{ID: "1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Retry)
}

func TestSendNoKeyMessage_Delivers(t *testing.T) {
	l := &fakeLink{replies: []*envelope.Envelope{{ID: "1"}}}
	s := newTestSender(l)

	err := s.SendNoKeyMessage(context.Background(), "c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, l.calls)
}

func TestRequestResendMessage_NoopWhenEmpty(t *testing.T) {
	l := &fakeLink{}
	s := newTestSender(l)

	err := s.RequestResendMessage(context.Background(), "c1", "u1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, l.calls)
}

func TestSendProcessSignalKey_RemoveParticipantClearsRows(t *testing.T) {
	l := &fakeLink{}
	s := newTestSender(l)
	ctx := context.Background()

	require.NoError(t, s.db.ReplaceParticipants(ctx, "c1", []*store.Participant{{ConversationID: "c1", UserID: "u1"}}))
	require.NoError(t, s.db.UpsertParticipantSession(ctx, &store.ParticipantSession{
		ConversationID: "c1", UserID: "u1", SessionID: "s1", SentToServer: true,
	}))

	err := s.SendProcessSignalKey(ctx, ActionRemoveParticipant, "c1", "u1", "")
	require.NoError(t, err)

	parts, err := s.db.ListParticipants(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, parts)
	sessions, err := s.db.ListParticipantSessions(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
