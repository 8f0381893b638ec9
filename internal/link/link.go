// Package link implements the persistent, compressed, authenticated
// bidirectional transport to the messaging platform: one writer goroutine,
// one reader goroutine owning the pending-transaction map, and a bounded
// reconnect loop.
package link

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/riftline/msgcore/internal/envelope"
	"github.com/riftline/msgcore/internal/logger"
	"github.com/riftline/msgcore/internal/metrics"
	"github.com/riftline/msgcore/internal/store"
)

// Subprotocol is the websocket subprotocol tag the link identifies itself with.
const Subprotocol = "Mixin-Blaze-1"

// State is the link's connection state.
type State int

// Connection states.
const (
	Disconnected State = iota
	Connecting
	Connected
)

// Signer produces a bearer token for a request, per internal/signing.
type Signer interface {
	Sign(method, path string, body []byte) (string, error)
}

// floodWritable is the subset of store.FloodMessageStore the link needs to
// backfill pending messages into.
type floodWritable interface {
	InsertFloodMessage(ctx context.Context, m *store.FloodMessage) error
}

var floodActions = map[envelope.Action]bool{
	envelope.ActionAcknowledgeMessageReceipt: true,
	envelope.ActionCreateMessage:             true,
	envelope.ActionCreateCall:                true,
	envelope.ActionCreateKraken:              true,
}

type createMessageData struct {
	MessageID     string `json:"message_id"`
	UserID        string `json:"user_id"`
	Category      string `json:"category"`
	ConversationID string `json:"conversation_id"`
}

type pendingTx struct {
	ch chan *envelope.Envelope
}

// Link is the client core's single connection to the remote platform.
type Link struct {
	url        string
	localUser  string
	signer     Signer
	flood      floodWritable
	log        logger.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
	writeWait  time.Duration

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	writeCh chan []byte

	pendingMu sync.Mutex
	pending   map[string]*pendingTx

	cancel context.CancelFunc
}

// Config configures a Link.
type Config struct {
	URL              string
	LocalUserID      string
	Signer           Signer
	FloodStore       floodWritable
	Logger           logger.Logger
	ReconnectMinWait time.Duration
	ReconnectMaxWait time.Duration
	WriteTimeout     time.Duration
}

// New builds a disconnected Link.
func New(cfg Config) *Link {
	if cfg.Logger == nil {
		cfg.Logger = logger.GetDefaultLogger()
	}
	if cfg.ReconnectMinWait == 0 {
		cfg.ReconnectMinWait = time.Second
	}
	if cfg.ReconnectMaxWait == 0 {
		cfg.ReconnectMaxWait = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Link{
		url:        cfg.URL,
		localUser:  cfg.LocalUserID,
		signer:     cfg.Signer,
		flood:      cfg.FloodStore,
		log:        cfg.Logger,
		minBackoff: cfg.ReconnectMinWait,
		maxBackoff: cfg.ReconnectMaxWait,
		writeWait:  cfg.WriteTimeout,
		writeCh:    make(chan []byte, 256),
		pending:    make(map[string]*pendingTx),
	}
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connect is idempotent: if already Connected it returns immediately,
// otherwise it dials, starts the writer/reader goroutines, and issues the
// initial LIST_PENDING_MESSAGES backfill request.
func (l *Link) Connect(ctx context.Context, lastFloodTimestamp *time.Time) error {
	l.mu.Lock()
	if l.state == Connected {
		l.mu.Unlock()
		return nil
	}
	l.state = Connecting
	l.mu.Unlock()

	token, err := l.signer.Sign("GET", "/", nil)
	if err != nil {
		return fmt.Errorf("link: sign connect token: %w", err)
	}

	header := map[string][]string{
		"Authorization": {"Bearer " + token},
	}
	dialer := &websocket.Dialer{Subprotocols: []string{Subprotocol}}
	conn, _, err := dialer.DialContext(ctx, l.url, header)
	if err != nil {
		metrics.LinkReconnects.WithLabelValues("failure").Inc()
		return fmt.Errorf("link: dial: %w", err)
	}

	l.mu.Lock()
	l.conn = conn
	l.state = Connected
	l.mu.Unlock()
	metrics.LinkReconnects.WithLabelValues("success").Inc()

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go l.writeLoop(runCtx, conn)
	go l.readLoop(runCtx, conn)

	var offset interface{}
	if lastFloodTimestamp != nil {
		offset = lastFloodTimestamp.Format(time.RFC3339)
	}
	params, _ := json.Marshal(map[string]interface{}{"offset": offset})
	_, err = l.SendMessage(ctx, &envelope.Envelope{
		ID:     uuid.New().String(),
		Action: envelope.ActionListPendingMessages,
		Params: params,
	})
	return err
}

// Close tears down both halves of the connection.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	l.state = Disconnected
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

// SendMessage registers a single-assignment pending transaction keyed by
// env.ID, writes the compressed frame, and awaits the matching reply. There
// is no per-envelope timeout; cancellation propagates via ctx.
func (l *Link) SendMessage(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	start := time.Now()
	ch := make(chan *envelope.Envelope, 1)

	l.pendingMu.Lock()
	l.pending[env.ID] = &pendingTx{ch: ch}
	metrics.LinkPendingTransactions.Set(float64(len(l.pending)))
	l.pendingMu.Unlock()

	defer func() {
		l.pendingMu.Lock()
		delete(l.pending, env.ID)
		metrics.LinkPendingTransactions.Set(float64(len(l.pending)))
		l.pendingMu.Unlock()
	}()

	frame, err := envelope.Encode(env)
	if err != nil {
		return nil, err
	}

	select {
	case l.writeCh <- frame:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-ch:
		metrics.LinkWriteDuration.WithLabelValues(string(env.Action)).Observe(time.Since(start).Seconds())
		if reply.Error != nil {
			return reply, reply.Error
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Link) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-l.writeCh:
			conn.SetWriteDeadline(time.Now().Add(l.writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				l.log.Error("link: write failed", logger.Error(err))
				return
			}
		}
	}
}

func (l *Link) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		l.mu.Lock()
		if l.conn == conn {
			l.state = Disconnected
		}
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			l.log.Error("link: read failed", logger.Error(err))
			return
		}

		env, err := envelope.Decode(frame)
		if err != nil {
			l.log.Error("link: decode failed", logger.Error(err))
			continue
		}

		l.dispatch(ctx, env)
	}
}

func (l *Link) dispatch(ctx context.Context, env *envelope.Envelope) {
	if env.Action == envelope.ActionError && env.Error != nil && env.Error.Code == authenticationErrorCode {
		// The link is closed here; no reconnect is started.
		l.log.Warn("link: authentication error, closing link")
		l.Close()
		return
	}

	l.pendingMu.Lock()
	tx, ok := l.pending[env.ID]
	if ok {
		delete(l.pending, env.ID)
	}
	metrics.LinkPendingTransactions.Set(float64(len(l.pending)))
	l.pendingMu.Unlock()

	if ok {
		select {
		case tx.ch <- env:
		default:
		}
	}

	if floodActions[env.Action] && len(env.Data) > 0 {
		l.writeFlood(ctx, env)
	}
}

// authenticationErrorCode is the server error code that forces a reconnect.
const authenticationErrorCode = 401

func (l *Link) writeFlood(ctx context.Context, env *envelope.Envelope) {
	if env.Action != envelope.ActionCreateMessage {
		return
	}

	var data createMessageData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		l.log.Error("link: flood data decode failed", logger.Error(err))
		return
	}

	if data.UserID == l.localUser && (data.Category == "" || data.ConversationID == "") {
		return // self-mark, not a real inbound message
	}

	if l.flood == nil {
		return
	}
	if err := l.flood.InsertFloodMessage(ctx, &store.FloodMessage{
		MessageID: data.MessageID,
		Data:      env.Data,
		CreatedAt: time.Now(),
	}); err != nil {
		l.log.Error("link: flood insert failed", logger.Error(err))
		return
	}
	metrics.LinkFloodMessagesWritten.Inc()
}

// Reconnect repeatedly attempts Connect with bounded exponential backoff
// until it succeeds or ctx is cancelled.
func (l *Link) Reconnect(ctx context.Context, lastFloodTimestamp *time.Time) error {
	wait := l.minBackoff
	for {
		err := l.Connect(ctx, lastFloodTimestamp)
		if err == nil {
			return nil
		}
		l.log.Warn("link: reconnect attempt failed", logger.Error(err), logger.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if wait > l.maxBackoff {
			wait = l.maxBackoff
		}
	}
}
