// Package sync implements the idempotent fetch-and-upsert contracts that
// keep the local conversation/user/session cache current against the
// platform's HTTP API.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/riftline/msgcore/internal/api"
	"github.com/riftline/msgcore/internal/store"
)

// systemUserID is the platform's reserved system-bot user id; conversations
// and sessions never need refreshing against it.
const systemUserID = "00000000-0000-0000-0000-000000000000"

// Client is the subset of the HTTP API sync consumes.
type Client interface {
	GetUser(ctx context.Context, userID string) (*api.UserProfile, error)
	FetchUsers(ctx context.Context, ids []string) ([]*api.UserProfile, error)
	GetConversation(ctx context.Context, conversationID string) (*api.ConversationPayload, error)
	FetchSessions(ctx context.Context, userIDs []string) ([]*api.SessionPayload, error)
}

// Syncer fetches and upserts users, conversations and sessions.
type Syncer struct {
	client     Client
	db         store.Store
	localUser  string
}

// New builds a Syncer for localUserID, the caller's own account id.
func New(client Client, db store.Store, localUserID string) *Syncer {
	return &Syncer{client: client, db: db, localUser: localUserID}
}

func toUser(p *api.UserProfile) *store.User {
	return &store.User{
		UserID:         p.UserID,
		IdentityNumber: p.IdentityNumber,
		FullName:       p.FullName,
		AvatarURL:      p.AvatarURL,
		UpdatedAt:      time.Now(),
	}
}

// RefreshUser returns the union of locally cached users (when !force) and
// freshly fetched-and-upserted ones. Empty ids yields an empty result.
func (s *Syncer) RefreshUser(ctx context.Context, ids []string, force bool) ([]*store.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var toFetch []string
	out := make([]*store.User, 0, len(ids))
	for _, id := range ids {
		if !force {
			if u, err := s.db.GetUser(ctx, id); err == nil {
				out = append(out, u)
				continue
			}
		}
		toFetch = append(toFetch, id)
	}
	if len(toFetch) == 0 {
		return out, nil
	}

	profiles, err := s.client.FetchUsers(ctx, toFetch)
	if err != nil {
		return nil, fmt.Errorf("sync: fetch users: %w", err)
	}
	for _, p := range profiles {
		u := toUser(p)
		if err := s.db.UpsertUser(ctx, u); err != nil {
			return nil, fmt.Errorf("sync: upsert user %s: %w", u.UserID, err)
		}
		out = append(out, u)
	}
	return out, nil
}

// SyncConversation refreshes cid unless it is empty, the system user, the
// local user, or already cached.
func (s *Syncer) SyncConversation(ctx context.Context, cid string) error {
	if cid == "" || cid == systemUserID || cid == s.localUser {
		return nil
	}
	if _, err := s.db.GetConversation(ctx, cid); err == nil {
		return nil
	}
	_, err := s.RefreshConversation(ctx, cid)
	return err
}

// RefreshConversation fetches cid, computes its local status, and upserts
// the conversation plus its participants and (if present) participant
// sessions atomically.
func (s *Syncer) RefreshConversation(ctx context.Context, cid string) (*store.Conversation, error) {
	payload, err := s.client.GetConversation(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("sync: get conversation %s: %w", cid, err)
	}

	status := store.ConversationFailure
	for _, p := range payload.Participants {
		if p.UserID == s.localUser {
			status = store.ConversationSuccess
			break
		}
	}
	if payload.Category == "CONTACT" && status == store.ConversationFailure {
		return nil, fmt.Errorf("sync: local user is not a participant of contact conversation %s", cid)
	}

	if payload.Category == "GROUP" {
		var ownerID string
		if len(payload.Participants) > 0 {
			ownerID = payload.Participants[0].UserID
		}
		if ownerID != "" {
			if _, err := s.RefreshUser(ctx, []string{ownerID}, false); err != nil {
				return nil, err
			}
		}
	}

	createdAt, _ := time.Parse(time.RFC3339, payload.CreatedAt)
	conv := &store.Conversation{
		ConversationID: payload.ConversationID,
		Category:       payload.Category,
		Name:           payload.Name,
		IconURL:        payload.IconURL,
		Announcement:   payload.Announcement,
		CodeURL:        payload.CodeURL,
		CreatedAt:      createdAt,
		Status:         status,
		ExpireIn:       payload.ExpireIn,
	}
	if err := s.db.UpsertConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("sync: upsert conversation %s: %w", cid, err)
	}

	participants := make([]*store.Participant, 0, len(payload.Participants))
	for _, p := range payload.Participants {
		createdAt, _ := time.Parse(time.RFC3339, p.CreatedAt)
		participants = append(participants, &store.Participant{
			ConversationID: cid,
			UserID:         p.UserID,
			Role:           p.Role,
			CreatedAt:      createdAt,
		})
	}
	if err := s.db.ReplaceParticipants(ctx, cid, participants); err != nil {
		return nil, fmt.Errorf("sync: replace participants of %s: %w", cid, err)
	}

	if payload.ParticipantSessions != nil {
		sessions := make([]*store.ParticipantSession, 0, len(payload.ParticipantSessions))
		for _, ps := range payload.ParticipantSessions {
			sessions = append(sessions, &store.ParticipantSession{
				ConversationID: cid,
				UserID:         ps.UserID,
				SessionID:      ps.SessionID,
				PublicKey:      ps.PublicKey,
			})
		}
		if err := s.db.ReplaceParticipantSessions(ctx, cid, sessions); err != nil {
			return nil, fmt.Errorf("sync: replace participant sessions of %s: %w", cid, err)
		}
	}

	return conv, nil
}

// RefreshSession fetches and upserts sessions for userIDs, without deleting
// any existing rows.
func (s *Syncer) RefreshSession(ctx context.Context, cid string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	sessions, err := s.client.FetchSessions(ctx, userIDs)
	if err != nil {
		return fmt.Errorf("sync: fetch sessions: %w", err)
	}
	for _, ps := range sessions {
		if err := s.db.UpsertParticipantSession(ctx, &store.ParticipantSession{
			ConversationID: cid,
			UserID:         ps.UserID,
			SessionID:      ps.SessionID,
			PublicKey:      ps.PublicKey,
		}); err != nil {
			return fmt.Errorf("sync: upsert participant session: %w", err)
		}
	}
	return nil
}
