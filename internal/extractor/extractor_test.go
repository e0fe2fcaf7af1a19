package extractor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/revops-dashboard/internal/config"
	"github.com/sells-group/revops-dashboard/internal/model"
	"github.com/sells-group/revops-dashboard/internal/store"
	"github.com/sells-group/revops-dashboard/pkg/anthropic"
	"github.com/sells-group/revops-dashboard/pkg/salesforce"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeAI stubs the Anthropic client. createFn handles direct calls;
// the batch fields drive the Batch API path.
type fakeAI struct {
	createFn func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error)

	batchItems   []anthropic.BatchRequestItem
	batchResults []anthropic.BatchResultItem
	batchErr     error
}

func (f *fakeAI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	return nil, errors.New("unexpected CreateMessage")
}

func (f *fakeAI) CreateBatch(_ context.Context, req anthropic.BatchRequest) (*anthropic.BatchResponse, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	f.batchItems = req.Requests
	return &anthropic.BatchResponse{ID: "batch_test", ProcessingStatus: "in_progress"}, nil
}

func (f *fakeAI) GetBatch(_ context.Context, batchID string) (*anthropic.BatchResponse, error) {
	return &anthropic.BatchResponse{ID: batchID, ProcessingStatus: "ended"}, nil
}

func (f *fakeAI) GetBatchResults(_ context.Context, _ string) (anthropic.BatchResultIterator, error) {
	return &sliceIterator{items: f.batchResults}, nil
}

type sliceIterator struct {
	items []anthropic.BatchResultItem
	pos   int
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.items) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Item() anthropic.BatchResultItem { return it.items[it.pos-1] }
func (it *sliceIterator) Err() error                      { return nil }
func (it *sliceIterator) Close() error                    { return nil }

func textResponse(body string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:         "msg_test",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: body}},
		StopReason: "end_turn",
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "extractor.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedDeal(t *testing.T, st store.Store, id, nextStep string, ext model.NextStepExtraction) {
	t.Helper()
	_, err := st.UpsertDeals(context.Background(), []model.DealSnapshot{{
		ID:                 id,
		Name:               "Deal " + id,
		StageID:            "Proposal",
		CreatedAt:          time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC),
		NextStep:           nextStep,
		NextStepExtraction: ext,
		OwnerID:            "005xx",
	}})
	require.NoError(t, err)
}

func testConfig() config.AnthropicConfig {
	return config.AnthropicConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 512}
}

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Date(2026, time.March, 16, 9, 0, 0, 0, time.UTC)
	}
}

func TestRun_DirectExtraction(t *testing.T) {
	st := newTestStore(t)
	seedDeal(t, st, "006aa", "Send proposal by 2026-03-20", model.NextStepExtraction{})
	seedDeal(t, st, "006bb", "Waiting on legal review from their side", model.NextStepExtraction{})
	seedDeal(t, st, "006cc", "  ", model.NextStepExtraction{})
	seedDeal(t, st, "006dd", "Demo Thursday", model.NextStepExtraction{
		Status: model.NextStepDateFound, Confidence: 0.9,
	})

	ai := &fakeAI{
		createFn: func(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			prompt := req.Messages[0].Content
			assert.Contains(t, prompt, "Today's date: Monday, 2026-03-16")
			if strings.Contains(prompt, "Send proposal by 2026-03-20") {
				return textResponse(`{"due_date": "2026-03-20", "status": "date-found", "confidence": 0.95, "display_message": "Proposal due Mar 20"}`), nil
			}
			return textResponse(`{"due_date": null, "status": "awaiting-external", "confidence": 0.8, "display_message": "Blocked on prospect legal"}`), nil
		},
	}

	e := New(ai, st, testConfig(), WithClock(fixedClock()))
	result, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 1, result.Committed)
	assert.Equal(t, 0, result.Failed)

	ctx := context.Background()

	deal, err := st.GetDeal(ctx, "006aa")
	require.NoError(t, err)
	assert.Equal(t, model.NextStepDateFound, deal.NextStepExtraction.Status)
	require.NotNil(t, deal.NextStepExtraction.DueDate)
	assert.Equal(t, "2026-03-20", deal.NextStepExtraction.DueDate.Format("2006-01-02"))
	assert.Equal(t, 0.95, deal.NextStepExtraction.Confidence)

	blocked, err := st.GetDeal(ctx, "006bb")
	require.NoError(t, err)
	assert.Equal(t, model.NextStepAwaitingExternal, blocked.NextStepExtraction.Status)
	assert.Nil(t, blocked.NextStepExtraction.DueDate)

	blank, err := st.GetDeal(ctx, "006cc")
	require.NoError(t, err)
	assert.Equal(t, model.NextStepEmpty, blank.NextStepExtraction.Status)

	// Already-extracted deal untouched.
	done, err := st.GetDeal(ctx, "006dd")
	require.NoError(t, err)
	assert.Equal(t, 0.9, done.NextStepExtraction.Confidence)
}

func TestRun_FailedMessageSkipsDeal(t *testing.T) {
	st := newTestStore(t)
	seedDeal(t, st, "006aa", "Call on Friday", model.NextStepExtraction{})
	seedDeal(t, st, "006bb", "Send pricing", model.NextStepExtraction{})

	ai := &fakeAI{
		createFn: func(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			if strings.Contains(req.Messages[0].Content, "Call on Friday") {
				return nil, errors.New("overloaded")
			}
			return textResponse(`{"due_date": null, "status": "no-date", "confidence": 0.7}`), nil
		},
	}

	e := New(ai, st, testConfig(), WithClock(fixedClock()))
	result, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Failed)

	// The failed deal stays pending for the next pass.
	deal, err := st.GetDeal(context.Background(), "006aa")
	require.NoError(t, err)
	assert.Equal(t, model.NextStepStatus(""), deal.NextStepExtraction.Status)
}

func TestRun_BatchPath(t *testing.T) {
	st := newTestStore(t)

	count := smallBatchThreshold + 5
	ai := &fakeAI{}
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("006%03d", i)
		seedDeal(t, st, id, "Follow up next week", model.NextStepExtraction{})
		ai.batchResults = append(ai.batchResults, anthropic.BatchResultItem{
			CustomID: "nextstep-" + id,
			Type:     "succeeded",
			Message:  textResponse(`{"due_date": "2026-03-23", "status": "date-inferred", "confidence": 0.6, "display_message": "Early next week"}`),
		})
	}

	e := New(ai, st, testConfig(), WithClock(fixedClock()))
	result, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, count, result.Processed)
	assert.Equal(t, count, result.Committed)
	assert.Len(t, ai.batchItems, count)

	deal, err := st.GetDeal(context.Background(), "006000")
	require.NoError(t, err)
	assert.Equal(t, model.NextStepDateInferred, deal.NextStepExtraction.Status)
}

func TestRun_WriteBack(t *testing.T) {
	st := newTestStore(t)
	seedDeal(t, st, "006aa", "Send contract by 2026-03-25", model.NextStepExtraction{})
	seedDeal(t, st, "006bb", "Circle back sometime", model.NextStepExtraction{})

	ai := &fakeAI{
		createFn: func(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			if strings.Contains(req.Messages[0].Content, "Send contract") {
				return textResponse(`{"due_date": "2026-03-25", "status": "date-found", "confidence": 0.9}`), nil
			}
			return textResponse(`{"due_date": null, "status": "date-unclear", "confidence": 0.4}`), nil
		},
	}

	sf := &fakeSFWriter{}
	e := New(ai, st, testConfig(), WithClock(fixedClock()), WithWriteBack(sf))
	result, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.WrittenBack)

	require.Len(t, sf.records, 1)
	assert.Equal(t, "006aa", sf.records[0].ID)
	assert.Equal(t, "2026-03-25", sf.records[0].Fields["Next_Activity_Date__c"])
}

// fakeSFWriter records UpdateCollection calls. The described org has
// the next-activity field writable unless readOnlyField is set.
type fakeSFWriter struct {
	records       []salesforce.CollectionRecord
	readOnlyField bool
}

func (f *fakeSFWriter) Query(context.Context, string, any) error { return errors.New("not implemented") }

func (f *fakeSFWriter) UpdateOne(context.Context, string, string, map[string]any) error {
	return errors.New("not implemented")
}

func (f *fakeSFWriter) UpdateCollection(_ context.Context, _ string, records []salesforce.CollectionRecord) ([]salesforce.CollectionResult, error) {
	f.records = append(f.records, records...)
	results := make([]salesforce.CollectionResult, len(records))
	for i, r := range records {
		results[i] = salesforce.CollectionResult{ID: r.ID, Success: true}
	}
	return results, nil
}

func (f *fakeSFWriter) DescribeSObject(context.Context, string) (*salesforce.SObjectDescription, error) {
	return &salesforce.SObjectDescription{
		Name: "Opportunity",
		Fields: []salesforce.SObjectField{
			{Name: "NextStep", Updateable: true},
			{Name: "Next_Activity_Date__c", Updateable: !f.readOnlyField},
		},
	}, nil
}

func TestRun_WriteBackRejectsReadOnlyField(t *testing.T) {
	st := newTestStore(t)
	seedDeal(t, st, "006aa", "Demo on 2026-03-25", model.NextStepExtraction{})

	ai := &fakeAI{
		createFn: func(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			return textResponse(`{"due_date": "2026-03-25", "status": "date-found", "confidence": 0.9}`), nil
		},
	}

	sf := &fakeSFWriter{readOnlyField: true}
	e := New(ai, st, testConfig(), WithClock(fixedClock()), WithWriteBack(sf))
	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Next_Activity_Date__c")
	assert.Empty(t, sf.records)
}

func TestRun_NothingPending(t *testing.T) {
	st := newTestStore(t)
	seedDeal(t, st, "006aa", "Demo Thursday", model.NextStepExtraction{
		Status: model.NextStepDateFound, Confidence: 0.9,
	})

	e := New(&fakeAI{}, st, testConfig(), WithClock(fixedClock()))
	result, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}
