// Package jobs runs the persistent outbound work queue: one goroutine per
// job category, woken by a coalesced 1-slot channel and a periodic fallback
// ticker, draining via internal/api and internal/sender.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/riftline/msgcore/internal/api"
	"github.com/riftline/msgcore/internal/envelope"
	"github.com/riftline/msgcore/internal/logger"
	"github.com/riftline/msgcore/internal/metrics"
	"github.com/riftline/msgcore/internal/sender"
	"github.com/riftline/msgcore/internal/store"
)

// Job categories, each a distinct Job.Action tag.
const (
	ActionAcknowledgeMessageReceipts = "ACKNOWLEDGE_MESSAGE_RECEIPTS"
	ActionCreateMessage              = "CREATE_MESSAGE"
	ActionSendingMessage             = "SENDING_MESSAGE"
	ActionPinMessage                 = "PIN_MESSAGE"
	ActionRecallMessage              = "RECALL_MESSAGE"
	ActionLocalUpdateSticker         = "LOCAL_UPDATE_STICKER"
	ActionLocalUpdateAsset           = "LOCAL_UPDATE_ASSET"
	ActionLocalUpdateToken           = "LOCAL_UPDATE_TOKEN"
	ActionLocalSyncInscriptionMsg    = "LOCAL_SYNC_INSCRIPTION_MESSAGE"
)

const (
	ackBatchSize     = 100
	fallbackInterval = 42 * time.Second
)

// AckJobID derives the deterministic job id duplicate acks collapse onto:
// a version-3 UUID over (message_id, status, action).
func AckJobID(messageID string, status store.MessageStatus, action string) string {
	return uuid.NewMD5(uuid.Nil, []byte(messageID+"|"+string(status)+"|"+action)).String()
}

// deliverer is the subset of *internal/sender.Sender the session-ack runner
// needs to build and send a PLAIN_JSON acknowledgement message.
type deliverer interface {
	DeliverPlainJSON(ctx context.Context, conversationID string, payload interface{}) error
}

// ackPoster is the subset of *internal/api.HTTPClient the ack runner needs.
type ackPoster interface {
	PostAcknowledgements(ctx context.Context, acks []api.Acknowledgement) error
}

// wakeChan is a single-slot coalesced wake signal: multiple sends while one
// is pending are dropped, since only "there is new work" matters.
type wakeChan chan struct{}

func newWakeChan() wakeChan { return make(wakeChan, 1) }

func (w wakeChan) signal() {
	select {
	case w <- struct{}{}:
	default:
	}
}

// Service owns one runner goroutine per job category.
type Service struct {
	db        store.Store
	acks      ackPoster
	sender    deliverer
	localUser string
	log       logger.Logger

	wakes map[string]wakeChan
}

// New builds a Service. Call Run to start its runners.
func New(db store.Store, acks ackPoster, sender deliverer, localUserID string, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	s := &Service{db: db, acks: acks, sender: sender, localUser: localUserID, log: log, wakes: make(map[string]wakeChan)}
	for _, action := range []string{
		ActionAcknowledgeMessageReceipts, ActionCreateMessage, ActionSendingMessage,
		ActionPinMessage, ActionRecallMessage, ActionLocalUpdateSticker,
		ActionLocalUpdateAsset, ActionLocalUpdateToken, ActionLocalSyncInscriptionMsg,
	} {
		s.wakes[action] = newWakeChan()
	}
	return s
}

// EnqueueAck implements internal/flood.Acker: it enqueues a coalesced
// ack-delivery job for messageID and wakes the ack runner.
func (s *Service) EnqueueAck(ctx context.Context, messageID string, status store.MessageStatus) error {
	jobID := AckJobID(messageID, status, ActionAcknowledgeMessageReceipts)
	body, err := json.Marshal(api.Acknowledgement{MessageID: messageID, Status: string(status)})
	if err != nil {
		return err
	}
	if err := s.db.EnqueueJob(ctx, &store.Job{
		JobID:        jobID,
		Action:       ActionAcknowledgeMessageReceipts,
		BlazeMessage: body,
		CreatedAt:    time.Now(),
	}); err != nil {
		return err
	}
	s.wakes[ActionAcknowledgeMessageReceipts].signal()
	return nil
}

// Enqueue schedules a generic job for action against conversationID: payload
// is marshaled into an envelope.Envelope's Params so the matching category's
// runGenericRunner can redeliver it, and the runner is woken immediately.
func (s *Service) Enqueue(ctx context.Context, action, conversationID string, payload interface{}) error {
	params, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := envelope.Envelope{Action: envelope.Action(action), Params: params}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := s.db.EnqueueJob(ctx, &store.Job{
		JobID:          uuid.NewString(),
		Action:         action,
		BlazeMessage:   body,
		ConversationID: conversationID,
		CreatedAt:      time.Now(),
	}); err != nil {
		return err
	}
	if wake, ok := s.wakes[action]; ok {
		wake.signal()
	}
	return nil
}

// Run starts every category's runner goroutine and blocks until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) {
	go s.runAckRunner(ctx)
	go s.runSessionAckRunner(ctx)
	for _, action := range []string{
		ActionSendingMessage, ActionPinMessage, ActionRecallMessage,
		ActionLocalUpdateSticker, ActionLocalUpdateAsset, ActionLocalUpdateToken,
		ActionLocalSyncInscriptionMsg,
	} {
		go s.runGenericRunner(ctx, action)
	}
	<-ctx.Done()
}

func (s *Service) runAckRunner(ctx context.Context) {
	ticker := time.NewTicker(fallbackInterval)
	defer ticker.Stop()
	wake := s.wakes[ActionAcknowledgeMessageReceipts]

	for {
		jobs, err := s.db.ListJobs(ctx, ActionAcknowledgeMessageReceipts, ackBatchSize)
		if err != nil {
			s.log.Error("jobs: list ack jobs failed", logger.Error(err))
		} else {
			metrics.JobQueueDepth.WithLabelValues(ActionAcknowledgeMessageReceipts).Set(float64(len(jobs)))
			if len(jobs) > 0 {
				acks := make([]api.Acknowledgement, 0, len(jobs))
				for _, j := range jobs {
					var a api.Acknowledgement
					if err := json.Unmarshal(j.BlazeMessage, &a); err == nil {
						acks = append(acks, a)
					}
				}
				runStart := time.Now()
				err := s.acks.PostAcknowledgements(ctx, acks)
				metrics.JobDuration.WithLabelValues(ActionAcknowledgeMessageReceipts).Observe(time.Since(runStart).Seconds())
				if err != nil {
					s.log.Warn("jobs: post acknowledgements failed, retrying later", logger.Error(err))
					metrics.JobsProcessed.WithLabelValues(ActionAcknowledgeMessageReceipts, "failure").Inc()
				} else {
					for _, j := range jobs {
						_ = s.db.DeleteJob(ctx, j.JobID)
					}
					metrics.JobsProcessed.WithLabelValues(ActionAcknowledgeMessageReceipts, "success").Inc()
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

// runSessionAckRunner implements the session-ack runner: it finds any
// joined conversation for the local user (falling back to a deterministic
// conversation id with the platform team user), builds a PLAIN_JSON
// ACKNOWLEDGE_MESSAGE_RECEIPTS message for the batch, and delivers it.
func (s *Service) runSessionAckRunner(ctx context.Context) {
	ticker := time.NewTicker(fallbackInterval)
	defer ticker.Stop()
	wake := s.wakes[ActionCreateMessage]

	for {
		jobs, err := s.db.ListJobs(ctx, ActionCreateMessage, ackBatchSize)
		if err != nil {
			s.log.Error("jobs: list session-ack jobs failed", logger.Error(err))
		} else {
			metrics.JobQueueDepth.WithLabelValues(ActionCreateMessage).Set(float64(len(jobs)))
			if len(jobs) > 0 {
				s.runSessionAckBatch(ctx, jobs)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

func (s *Service) runSessionAckBatch(ctx context.Context, jobs []*store.Job) {
	conversationID := s.findJoinedConversation(ctx)

	acks := make([]map[string]string, 0, len(jobs))
	for _, j := range jobs {
		var a api.Acknowledgement
		if err := json.Unmarshal(j.BlazeMessage, &a); err == nil {
			acks = append(acks, map[string]string{"message_id": a.MessageID, "status": a.Status})
		}
	}

	start := time.Now()
	err := s.sender.DeliverPlainJSON(ctx, conversationID, map[string]interface{}{
		"action":       "ACKNOWLEDGE_MESSAGE_RECEIPTS",
		"ack_messages": acks,
	})
	metrics.JobDuration.WithLabelValues(ActionCreateMessage).Observe(time.Since(start).Seconds())
	if err == nil || isBadData(err) {
		for _, j := range jobs {
			_ = s.db.DeleteJob(ctx, j.JobID)
		}
		metrics.JobsProcessed.WithLabelValues(ActionCreateMessage, "success").Inc()
		return
	}
	s.log.Warn("jobs: session-ack delivery failed, retrying later", logger.Error(err))
	metrics.JobsProcessed.WithLabelValues(ActionCreateMessage, "failure").Inc()
}

func isBadData(err error) bool {
	return errors.Is(err, sender.ErrBadData)
}

const platformTeamUserID = "773e5e77-4ad3-4a8a-b784-e5fe5f1b08b7"

func (s *Service) findJoinedConversation(ctx context.Context) string {
	// The in-memory reference store has no index of "conversations the
	// local user belongs to"; a real backend would query one. Fall back to
	// the deterministic conversation id with the platform team user, which
	// is always reachable.
	return sender.GenerateConversationID([]string{s.localUser, platformTeamUserID})
}

// runGenericRunner drains a category by re-delivering its stored blaze
// message and deleting on success, matching the ack/session-ack runners'
// shape for every other category.
func (s *Service) runGenericRunner(ctx context.Context, action string) {
	ticker := time.NewTicker(fallbackInterval)
	defer ticker.Stop()
	wake := s.wakes[action]

	for {
		jobs, err := s.db.ListJobs(ctx, action, ackBatchSize)
		if err != nil {
			s.log.Error("jobs: list failed", logger.String("action", action), logger.Error(err))
		}
		metrics.JobQueueDepth.WithLabelValues(action).Set(float64(len(jobs)))
		for _, j := range jobs {
			var env envelope.Envelope
			if err := json.Unmarshal(j.BlazeMessage, &env); err != nil {
				s.log.Warn("jobs: undecodable job, dropping", logger.String("action", action), logger.Error(err))
				_ = s.db.DeleteJob(ctx, j.JobID)
				continue
			}
			start := time.Now()
			err := s.sender.DeliverPlainJSON(ctx, j.ConversationID, env.Params)
			metrics.JobDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
			if err == nil || isBadData(err) {
				_ = s.db.DeleteJob(ctx, j.JobID)
				metrics.JobsProcessed.WithLabelValues(action, "success").Inc()
			} else {
				s.log.Warn("jobs: delivery failed, retrying later", logger.String("action", action), logger.Error(err))
				metrics.JobsProcessed.WithLabelValues(action, "failure").Inc()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}
