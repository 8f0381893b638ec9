package api

import (
	"context"
	"fmt"
	"strconv"
)

// UserProfile is the subset of GET /users/:id the core consumes.
type UserProfile struct {
	UserID         string `json:"user_id"`
	IdentityNumber string `json:"identity_number"`
	FullName       string `json:"full_name"`
	AvatarURL      string `json:"avatar_url"`
}

// ConversationPayload is the subset of GET/POST /conversations(/:id) the
// core consumes.
type ConversationPayload struct {
	ConversationID      string                `json:"conversation_id"`
	Category            string                `json:"category"`
	Name                string                `json:"name"`
	IconURL             string                `json:"icon_url"`
	Announcement        string                `json:"announcement"`
	CodeURL             string                `json:"code_url"`
	CreatedAt           string                `json:"created_at"`
	ExpireIn            int64                 `json:"expire_in"`
	Participants        []ParticipantPayload  `json:"participants"`
	ParticipantSessions []ParticipantSessionPayload `json:"participant_sessions"`
}

// ParticipantPayload is one conversation member as the platform renders it.
type ParticipantPayload struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// ParticipantSessionPayload is one member's Signal session bookkeeping row.
type ParticipantSessionPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	PublicKey string `json:"public_key"`
}

// SessionPayload is one row of POST /sessions/fetch.
type SessionPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	PublicKey string `json:"public_key"`
}

// GetMe issues GET /me.
func (c *HTTPClient) GetMe(ctx context.Context) (*UserProfile, error) {
	var out UserProfile
	if err := c.Get(ctx, "/me", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUser issues GET /users/:id.
func (c *HTTPClient) GetUser(ctx context.Context, userID string) (*UserProfile, error) {
	var out UserProfile
	if err := c.Get(ctx, "/users/"+userID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchUsers issues POST /users/fetch for a batch of ids.
func (c *HTTPClient) FetchUsers(ctx context.Context, ids []string) ([]*UserProfile, error) {
	var out []*UserProfile
	if err := c.Post(ctx, "/users/fetch", ids, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchSessions issues POST /sessions/fetch for a batch of user ids.
func (c *HTTPClient) FetchSessions(ctx context.Context, userIDs []string) ([]*SessionPayload, error) {
	var out []*SessionPayload
	if err := c.Post(ctx, "/sessions/fetch", userIDs, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation issues GET /conversations/:id.
func (c *HTTPClient) GetConversation(ctx context.Context, conversationID string) (*ConversationPayload, error) {
	var out ConversationPayload
	if err := c.Get(ctx, "/conversations/"+conversationID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateConversation issues POST /conversations.
func (c *HTTPClient) CreateConversation(ctx context.Context, body interface{}) (*ConversationPayload, error) {
	var out ConversationPayload
	if err := c.Post(ctx, "/conversations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateConversation issues POST /conversations/:id.
func (c *HTTPClient) UpdateConversation(ctx context.Context, conversationID string, body interface{}) (*ConversationPayload, error) {
	var out ConversationPayload
	if err := c.Post(ctx, "/conversations/"+conversationID, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConversationAction issues POST /conversations/:id/<action>, covering
// exit/mute/rotate/disappear and participants/:action.
func (c *HTTPClient) ConversationAction(ctx context.Context, conversationID, action string, body interface{}) (*ConversationPayload, error) {
	var out ConversationPayload
	if err := c.Post(ctx, "/conversations/"+conversationID+"/"+action, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CirclePayload is one row of the circle endpoints.
type CirclePayload struct {
	CircleID  string `json:"circle_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// CircleConversationPayload is one row of
// GET /circles/:id/conversations.
type CircleConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

// ListCircles issues GET /circles.
func (c *HTTPClient) ListCircles(ctx context.Context) ([]*CirclePayload, error) {
	var out []*CirclePayload
	if err := c.Get(ctx, "/circles", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCircle issues GET /circles/:id.
func (c *HTTPClient) GetCircle(ctx context.Context, circleID string) (*CirclePayload, error) {
	var out CirclePayload
	if err := c.Get(ctx, "/circles/"+circleID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCircle issues POST /circles.
func (c *HTTPClient) CreateCircle(ctx context.Context, name string) (*CirclePayload, error) {
	var out CirclePayload
	if err := c.Post(ctx, "/circles", map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateCircle issues POST /circles/:id.
func (c *HTTPClient) UpdateCircle(ctx context.Context, circleID, name string) (*CirclePayload, error) {
	var out CirclePayload
	if err := c.Post(ctx, "/circles/"+circleID, map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCircle issues POST /circles/:id/delete.
func (c *HTTPClient) DeleteCircle(ctx context.Context, circleID string) error {
	return c.Post(ctx, "/circles/"+circleID+"/delete", nil, nil)
}

// AddCircleConversation issues POST /circles/:id/conversations.
func (c *HTTPClient) AddCircleConversation(ctx context.Context, circleID, conversationID string) error {
	return c.Post(ctx, "/circles/"+circleID+"/conversations",
		map[string]string{"conversation_id": conversationID}, nil)
}

// ListCircleConversations issues GET /circles/:id/conversations with
// pagination; limit defaults to 500 when <= 0, matching the platform default.
func (c *HTTPClient) ListCircleConversations(ctx context.Context, circleID string, offset string, limit int) ([]*CircleConversationPayload, error) {
	if limit <= 0 {
		limit = 500
	}
	path := fmt.Sprintf("/circles/%s/conversations?limit=%s", circleID, strconv.Itoa(limit))
	if offset != "" {
		path += "&offset=" + offset
	}
	var out []*CircleConversationPayload
	if err := c.Get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Acknowledgement is one row the ack job runner batches to the server.
type Acknowledgement struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// PostAcknowledgements issues POST /acknowledgements.
func (c *HTTPClient) PostAcknowledgements(ctx context.Context, acks []Acknowledgement) error {
	return c.Post(ctx, "/acknowledgements", acks, nil)
}

// Relationship issues POST /relationships (add/remove/block contact).
func (c *HTTPClient) Relationship(ctx context.Context, userID, action string) error {
	return c.Post(ctx, "/relationships", map[string]string{"user_id": userID, "action": action}, nil)
}

// Report issues POST /reports.
func (c *HTTPClient) Report(ctx context.Context, userID, description string) error {
	return c.Post(ctx, "/reports", map[string]string{"user_id": userID, "description": description}, nil)
}

// BlockingUsers issues GET /blocking_users.
func (c *HTTPClient) BlockingUsers(ctx context.Context) ([]*UserProfile, error) {
	var out []*UserProfile
	if err := c.Get(ctx, "/blocking_users", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FavoriteApps issues GET /users/:id/apps/favorite.
func (c *HTTPClient) FavoriteApps(ctx context.Context, userID string) ([]*AppPayload, error) {
	var out []*AppPayload
	if err := c.Get(ctx, "/users/"+userID+"/apps/favorite", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AppPayload is one cached bot/app descriptor.
type AppPayload struct {
	AppID     string `json:"app_id"`
	UpdatedAt string `json:"updated_at"`
}
