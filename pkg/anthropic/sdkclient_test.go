package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient points an sdkClient at a local test server.
func newTestClient(baseURL string) *sdkClient {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey("test-key"),
			option.WithBaseURL(baseURL),
		),
	}
}

func jsonHandler(t *testing.T, status int, body string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, err := w.Write([]byte(body))
		assert.NoError(t, err)
	}
}

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		jsonHandler(t, http.StatusOK, `{
			"id": "msg_ext_100",
			"type": "message",
			"role": "assistant",
			"content": [{"type": "text", "text": "{\"due_date\":\"2026-09-04\",\"status\":\"committed\",\"confidence\":0.85}"}],
			"model": "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"usage": {
				"input_tokens": 410,
				"output_tokens": 42,
				"cache_creation_input_tokens": 0,
				"cache_read_input_tokens": 8200
			}
		}`)(w, r)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 512,
		System:    BuildCachedSystemBlocks("Extraction instructions"),
		Messages: []Message{
			{Role: "user", Content: "Deal: Acme Renewal. Next step: send revised proposal by Friday."},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_ext_100", resp.ID)
	assert.Equal(t, "claude-haiku-4-5-20251001", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 1)
	assert.Contains(t, resp.Content[0].Text, "2026-09-04")
	assert.Equal(t, int64(410), resp.Usage.InputTokens)
	assert.Equal(t, int64(8200), resp.Usage.CacheReadInputTokens)
}

func TestSDKClient_CreateMessage_APIError(t *testing.T) {
	ts := httptest.NewServer(jsonHandler(t, http.StatusInternalServerError, `{
		"type": "error",
		"error": {"type": "api_error", "message": "Internal server error"}
	}`))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 512,
		Messages:  []Message{{Role: "user", Content: "Deal: Acme Renewal."}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
}

func TestSDKClient_CreateBatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/batches")
		jsonHandler(t, http.StatusOK, `{
			"id": "batch_pass_01",
			"type": "message_batch",
			"processing_status": "in_progress",
			"results_url": "",
			"request_counts": {"processing": 2, "succeeded": 0, "errored": 0, "canceled": 0, "expired": 0}
		}`)(w, r)
	}))
	defer ts.Close()

	temp := 0.2
	client := newTestClient(ts.URL)
	resp, err := client.CreateBatch(context.Background(), BatchRequest{
		Requests: []BatchRequestItem{
			{CustomID: "nextstep-006A1", Params: MessageRequest{
				Model: "claude-haiku-4-5-20251001", MaxTokens: 512,
				System:      BuildCachedSystemBlocks("Extraction instructions"),
				Messages:    []Message{{Role: "user", Content: "Deal: Acme Renewal."}},
				Temperature: &temp,
			}},
			{CustomID: "nextstep-006B2", Params: MessageRequest{
				Model: "claude-haiku-4-5-20251001", MaxTokens: 512,
				Messages: []Message{{Role: "user", Content: "Deal: Globex Expansion."}},
			}},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "batch_pass_01", resp.ID)
	assert.Equal(t, "in_progress", resp.ProcessingStatus)
	assert.Equal(t, int64(2), resp.RequestCounts.Processing)
}

func TestSDKClient_CreateBatch_RateLimited(t *testing.T) {
	ts := httptest.NewServer(jsonHandler(t, http.StatusTooManyRequests, `{
		"type": "error",
		"error": {"type": "rate_limit_error", "message": "Rate limit exceeded"}
	}`))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.CreateBatch(context.Background(), BatchRequest{
		Requests: []BatchRequestItem{
			{CustomID: "nextstep-006A1", Params: MessageRequest{
				Model: "claude-haiku-4-5-20251001", MaxTokens: 512,
				Messages: []Message{{Role: "user", Content: "Deal: Acme Renewal."}},
			}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create batch")
}

func TestSDKClient_GetBatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "batch_pass_01")
		jsonHandler(t, http.StatusOK, `{
			"id": "batch_pass_01",
			"type": "message_batch",
			"processing_status": "ended",
			"results_url": "https://api.anthropic.com/results/batch_pass_01",
			"request_counts": {"processing": 0, "succeeded": 2, "errored": 0, "canceled": 0, "expired": 0}
		}`)(w, r)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	resp, err := client.GetBatch(context.Background(), "batch_pass_01")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "ended", resp.ProcessingStatus)
	assert.Equal(t, int64(2), resp.RequestCounts.Succeeded)
	assert.Contains(t, resp.ResultsURL, "batch_pass_01")
}

func TestSDKClient_GetBatch_NotFound(t *testing.T) {
	ts := httptest.NewServer(jsonHandler(t, http.StatusNotFound, `{
		"type": "error",
		"error": {"type": "not_found_error", "message": "Batch not found"}
	}`))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.GetBatch(context.Background(), "batch_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: get batch")
}

func TestSDKClient_GetBatchResults(t *testing.T) {
	// The results endpoint streams JSONL, one result per line.
	lines := `{"custom_id":"nextstep-006A1","result":{"type":"succeeded","message":{"id":"msg_r1","type":"message","role":"assistant","content":[{"type":"text","text":"{\"due_date\":\"2026-09-04\",\"status\":\"committed\"}"}],"model":"claude-haiku-4-5-20251001","stop_reason":"end_turn","usage":{"input_tokens":400,"output_tokens":30,"cache_creation_input_tokens":0,"cache_read_input_tokens":8200}}}}` + "\n" +
		`{"custom_id":"nextstep-006B2","result":{"type":"errored"}}` + "\n"

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "batch_pass_01")
		w.Header().Set("Content-Type", "application/x-jsonlines")
		_, err := w.Write([]byte(lines))
		assert.NoError(t, err)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	iter, err := client.GetBatchResults(context.Background(), "batch_pass_01")
	require.NoError(t, err)
	require.NotNil(t, iter)
	defer iter.Close() //nolint:errcheck

	var items []BatchResultItem
	for iter.Next() {
		items = append(items, iter.Item())
	}
	require.NoError(t, iter.Err())
	require.Len(t, items, 2)

	assert.Equal(t, "nextstep-006A1", items[0].CustomID)
	assert.Equal(t, "succeeded", items[0].Type)
	require.NotNil(t, items[0].Message)
	assert.Contains(t, items[0].Message.Content[0].Text, "committed")
	assert.Equal(t, int64(8200), items[0].Message.Usage.CacheReadInputTokens)

	assert.Equal(t, "nextstep-006B2", items[1].CustomID)
	assert.Equal(t, "errored", items[1].Type)
	assert.Nil(t, items[1].Message)
}

func TestSDKClient_GetBatchResults_NotFound(t *testing.T) {
	ts := httptest.NewServer(jsonHandler(t, http.StatusNotFound, `{
		"type": "error",
		"error": {"type": "not_found_error", "message": "Batch not found"}
	}`))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.GetBatchResults(context.Background(), "batch_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: get batch results")
}
