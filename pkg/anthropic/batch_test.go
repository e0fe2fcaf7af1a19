package anthropic

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// pollFuncClient delegates GetBatch to a function so tests can script
// status sequences without testify's functional return pattern.
type pollFuncClient struct {
	fn func(context.Context, string) (*BatchResponse, error)
}

func (c *pollFuncClient) CreateMessage(context.Context, MessageRequest) (*MessageResponse, error) {
	return nil, nil
}

func (c *pollFuncClient) CreateBatch(context.Context, BatchRequest) (*BatchResponse, error) {
	return nil, nil
}

func (c *pollFuncClient) GetBatch(ctx context.Context, id string) (*BatchResponse, error) {
	return c.fn(ctx, id)
}

func (c *pollFuncClient) GetBatchResults(context.Context, string) (BatchResultIterator, error) {
	return nil, nil
}

// scriptedStatuses returns a client that walks through the given
// processing statuses, one per GetBatch call, sticking on the last.
func scriptedStatuses(calls *atomic.Int32, statuses ...string) *pollFuncClient {
	return &pollFuncClient{fn: func(_ context.Context, id string) (*BatchResponse, error) {
		n := int(calls.Add(1))
		if n > len(statuses) {
			n = len(statuses)
		}
		return &BatchResponse{
			ID:               id,
			ProcessingStatus: statuses[n-1],
			RequestCounts:    RequestCounts{Succeeded: 3},
		}, nil
	}}
}

func TestPollBatch_EndedImmediately(t *testing.T) {
	var calls atomic.Int32
	client := scriptedStatuses(&calls, "ended")

	resp, err := PollBatch(context.Background(), client, "batch_pass1",
		WithPollInterval(5*time.Millisecond),
	)
	require.NoError(t, err)
	assert.Equal(t, "ended", resp.ProcessingStatus)
	assert.Equal(t, int64(3), resp.RequestCounts.Succeeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPollBatch_EndedAfterPolling(t *testing.T) {
	var calls atomic.Int32
	client := scriptedStatuses(&calls, "in_progress", "in_progress", "ended")

	resp, err := PollBatch(context.Background(), client, "batch_pass2",
		WithPollInterval(5*time.Millisecond),
		WithPollCap(10*time.Millisecond),
	)
	require.NoError(t, err)
	assert.Equal(t, "ended", resp.ProcessingStatus)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollBatch_ExpiredAndCanceled(t *testing.T) {
	for _, status := range []string{"expired", "canceled", "canceling"} {
		t.Run(status, func(t *testing.T) {
			var calls atomic.Int32
			client := scriptedStatuses(&calls, status)

			resp, err := PollBatch(context.Background(), client, "batch_dead",
				WithPollInterval(5*time.Millisecond),
			)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestPollBatch_ContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	var calls atomic.Int32
	client := scriptedStatuses(&calls, "in_progress")

	_, err := PollBatch(ctx, client, "batch_slow",
		WithPollInterval(10*time.Millisecond),
		WithPollCap(15*time.Millisecond),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollBatch_DefaultTimeoutOption(t *testing.T) {
	var calls atomic.Int32
	client := scriptedStatuses(&calls, "in_progress")

	_, err := PollBatch(context.Background(), client, "batch_slow",
		WithPollInterval(5*time.Millisecond),
		WithPollCap(10*time.Millisecond),
		WithPollTimeout(40*time.Millisecond),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollBatch_GetBatchError(t *testing.T) {
	mc := new(MockClient)
	mc.On("GetBatch", mock.Anything, "batch_err").Return(nil, fmt.Errorf("api error: 500"))

	_, err := PollBatch(context.Background(), mc, "batch_err",
		WithPollInterval(5*time.Millisecond),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api error: 500")
}

func TestPollBatch_IntervalGrows(t *testing.T) {
	var calls atomic.Int32
	var timestamps []time.Time
	client := &pollFuncClient{fn: func(_ context.Context, id string) (*BatchResponse, error) {
		timestamps = append(timestamps, time.Now())
		status := "in_progress"
		if calls.Add(1) >= 4 {
			status = "ended"
		}
		return &BatchResponse{ID: id, ProcessingStatus: status}, nil
	}}

	_, err := PollBatch(context.Background(), client, "batch_backoff",
		WithPollInterval(20*time.Millisecond),
		WithPollCap(100*time.Millisecond),
	)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(timestamps), 3)

	gap1 := timestamps[1].Sub(timestamps[0])
	gap2 := timestamps[2].Sub(timestamps[1])
	assert.Greater(t, gap2.Milliseconds(), gap1.Milliseconds()-5,
		"poll gap should grow: gap1=%v gap2=%v", gap1, gap2)
}

func TestCollectBatchResults_SkipsFailedItems(t *testing.T) {
	items := []BatchResultItem{
		{
			CustomID: "nextstep-006A1",
			Type:     "succeeded",
			Message: &MessageResponse{
				ID:      "msg_1",
				Content: []ContentBlock{{Type: "text", Text: `{"due_date":"2026-09-04","status":"committed"}`}},
			},
		},
		{CustomID: "nextstep-006B2", Type: "errored"},
		{
			CustomID: "nextstep-006C3",
			Type:     "succeeded",
			Message: &MessageResponse{
				ID:      "msg_3",
				Content: []ContentBlock{{Type: "text", Text: `{"due_date":null,"status":"no_activity"}`}},
			},
		},
		{CustomID: "nextstep-006D4", Type: "expired"},
	}

	results, err := CollectBatchResults(NewMockBatchResultIterator(items))
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Contains(t, results["nextstep-006A1"].Content[0].Text, "committed")
	assert.Contains(t, results["nextstep-006C3"].Content[0].Text, "no_activity")
	assert.Nil(t, results["nextstep-006B2"])
	assert.Nil(t, results["nextstep-006D4"])
}

func TestCollectBatchResults_Empty(t *testing.T) {
	results, err := CollectBatchResults(NewMockBatchResultIterator(nil))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCollectBatchResults_StreamError(t *testing.T) {
	items := []BatchResultItem{
		{CustomID: "nextstep-006A1", Type: "succeeded", Message: &MessageResponse{ID: "msg_1"}},
	}

	iter := NewMockBatchResultIteratorWithError(items, fmt.Errorf("stream interrupted"))
	_, err := CollectBatchResults(iter)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream interrupted")
}

func TestCollectBatchResultsDetailed_TracksFailures(t *testing.T) {
	items := []BatchResultItem{
		{CustomID: "nextstep-006A1", Type: "succeeded", Message: &MessageResponse{ID: "msg_1"}},
		{CustomID: "nextstep-006B2", Type: "errored"},
		{CustomID: "nextstep-006C3", Type: "canceled"},
	}

	result, err := CollectBatchResultsDetailed(NewMockBatchResultIterator(items))
	require.NoError(t, err)
	assert.Len(t, result.Succeeded, 1)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, BatchFailure{CustomID: "nextstep-006B2", Type: "errored"}, result.Failures[0])
	assert.Equal(t, BatchFailure{CustomID: "nextstep-006C3", Type: "canceled"}, result.Failures[1])
}
