package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftline/msgcore/internal/api"
	"github.com/riftline/msgcore/internal/sender"
	"github.com/riftline/msgcore/internal/store"
	"github.com/riftline/msgcore/internal/store/memstore"
)

type fakeAckPoster struct {
	posted [][]api.Acknowledgement
	err    error
}

func (f *fakeAckPoster) PostAcknowledgements(ctx context.Context, acks []api.Acknowledgement) error {
	f.posted = append(f.posted, acks)
	return f.err
}

type fakeDeliverer struct {
	delivered int
	err       error
}

func (f *fakeDeliverer) DeliverPlainJSON(ctx context.Context, conversationID string, payload interface{}) error {
	f.delivered++
	return f.err
}

func TestAckJobID_CoalescesDuplicateAcks(t *testing.T) {
	a := AckJobID("m1", store.StatusDelivered, ActionAcknowledgeMessageReceipts)
	b := AckJobID("m1", store.StatusDelivered, ActionAcknowledgeMessageReceipts)
	assert.Equal(t, a, b)

	c := AckJobID("m1", store.StatusRead, ActionAcknowledgeMessageReceipts)
	assert.NotEqual(t, a, c)
}

func TestEnqueueAck_DeduplicatesSameJob(t *testing.T) {
	db := memstore.New()
	svc := New(db, &fakeAckPoster{}, &fakeDeliverer{}, "local", nil)
	ctx := context.Background()

	require.NoError(t, svc.EnqueueAck(ctx, "m1", store.StatusDelivered))
	require.NoError(t, svc.EnqueueAck(ctx, "m1", store.StatusDelivered))

	jobs, err := db.ListJobs(ctx, ActionAcknowledgeMessageReceipts, 100)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestRunAckRunner_PostsAndDeletesOnSuccess(t *testing.T) {
	db := memstore.New()
	ctx, cancel := context.WithCancel(context.Background())
	poster := &fakeAckPoster{}
	svc := New(db, poster, &fakeDeliverer{}, "local", nil)

	require.NoError(t, svc.EnqueueAck(ctx, "m1", store.StatusDelivered))

	done := make(chan struct{})
	go func() {
		svc.runAckRunner(ctx)
		close(done)
	}()

	// Let the first pass run, then stop the runner.
	deadline := time.Now().Add(time.Second)
	for len(poster.posted) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	jobs, err := db.ListJobs(context.Background(), ActionAcknowledgeMessageReceipts, 100)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestIsBadData_MatchesSentinel(t *testing.T) {
	assert.True(t, isBadData(sender.ErrBadData))
	assert.False(t, isBadData(nil))
}
