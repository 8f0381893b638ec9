package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftline/msgcore/internal/api"
	"github.com/riftline/msgcore/internal/store"
	"github.com/riftline/msgcore/internal/store/memstore"
)

type stubClient struct {
	users         map[string]*api.UserProfile
	conversations map[string]*api.ConversationPayload
	sessions      []*api.SessionPayload
	fetchUserErr  error
}

func (s *stubClient) GetUser(ctx context.Context, userID string) (*api.UserProfile, error) {
	return s.users[userID], nil
}

func (s *stubClient) FetchUsers(ctx context.Context, ids []string) ([]*api.UserProfile, error) {
	if s.fetchUserErr != nil {
		return nil, s.fetchUserErr
	}
	var out []*api.UserProfile
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *stubClient) GetConversation(ctx context.Context, conversationID string) (*api.ConversationPayload, error) {
	return s.conversations[conversationID], nil
}

func (s *stubClient) FetchSessions(ctx context.Context, userIDs []string) ([]*api.SessionPayload, error) {
	return s.sessions, nil
}

func TestRefreshUser_EmptyIDsShortCircuits(t *testing.T) {
	s := New(&stubClient{}, memstore.New(), "local")
	out, err := s.RefreshUser(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRefreshUser_UsesCacheUnlessForced(t *testing.T) {
	db := memstore.New()
	require.NoError(t, db.UpsertUser(context.Background(), &store.User{UserID: "u1", FullName: "Cached"}))

	client := &stubClient{users: map[string]*api.UserProfile{
		"u1": {UserID: "u1", FullName: "Fresh"},
	}}
	s := New(client, db, "local")

	out, err := s.RefreshUser(context.Background(), []string{"u1"}, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Cached", out[0].FullName)

	out, err = s.RefreshUser(context.Background(), []string{"u1"}, true)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Fresh", out[0].FullName)
}

func TestSyncConversation_SkipsLocalAndSystemAndEmpty(t *testing.T) {
	db := memstore.New()
	client := &stubClient{}
	s := New(client, db, "local-user")

	require.NoError(t, s.SyncConversation(context.Background(), ""))
	require.NoError(t, s.SyncConversation(context.Background(), "local-user"))
	require.NoError(t, s.SyncConversation(context.Background(), systemUserID))

	_, err := db.GetConversation(context.Background(), "local-user")
	assert.Error(t, err)
}

func TestRefreshConversation_ContactFailureErrors(t *testing.T) {
	db := memstore.New()
	client := &stubClient{conversations: map[string]*api.ConversationPayload{
		"c1": {
			ConversationID: "c1",
			Category:       "CONTACT",
			Participants:   []api.ParticipantPayload{{UserID: "other"}},
		},
	}}
	s := New(client, db, "local-user")

	_, err := s.RefreshConversation(context.Background(), "c1")
	assert.Error(t, err)
}

func TestRefreshConversation_SuccessUpsertsParticipants(t *testing.T) {
	db := memstore.New()
	client := &stubClient{conversations: map[string]*api.ConversationPayload{
		"c1": {
			ConversationID: "c1",
			Category:       "GROUP",
			Participants: []api.ParticipantPayload{
				{UserID: "local-user"},
				{UserID: "other"},
			},
		},
	}}
	s := New(client, db, "local-user")

	conv, err := s.RefreshConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, store.ConversationSuccess, conv.Status)

	parts, err := db.ListParticipants(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, parts, 2)
}
