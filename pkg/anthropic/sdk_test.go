package anthropic

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSDKMessage(t *testing.T) {
	sdkMsg := &sdk.Message{
		ID:         "msg_ext_01",
		Model:      "claude-haiku-4-5-20251001",
		StopReason: "end_turn",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: `{"due_date":"2026-09-04","status":"committed","confidence":0.9}`},
		},
		Usage: sdk.Usage{
			InputTokens:              420,
			OutputTokens:             55,
			CacheCreationInputTokens: 0,
			CacheReadInputTokens:     8200,
		},
	}

	resp := fromSDKMessage(sdkMsg)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_ext_01", resp.ID)
	assert.Equal(t, "claude-haiku-4-5-20251001", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "text", resp.Content[0].Type)
	assert.Contains(t, resp.Content[0].Text, "2026-09-04")
	assert.Equal(t, int64(420), resp.Usage.InputTokens)
	assert.Equal(t, int64(55), resp.Usage.OutputTokens)
	assert.Equal(t, int64(8200), resp.Usage.CacheReadInputTokens)
}

func TestFromSDKMessage_Truncated(t *testing.T) {
	sdkMsg := &sdk.Message{
		ID:         "msg_cut",
		Model:      "claude-haiku-4-5-20251001",
		StopReason: "max_tokens",
	}

	resp := fromSDKMessage(sdkMsg)
	require.NotNil(t, resp)
	assert.Empty(t, resp.Content)
	assert.Equal(t, "max_tokens", resp.StopReason)
}

func TestFromSDKBatch(t *testing.T) {
	sdkBatch := &sdk.MessageBatch{
		ID:               "batch_pass_07",
		ProcessingStatus: "ended",
		ResultsURL:       "https://api.anthropic.com/results/batch_pass_07",
		RequestCounts: sdk.MessageBatchRequestCounts{
			Succeeded: 38,
			Errored:   2,
		},
	}

	resp := fromSDKBatch(sdkBatch)
	require.NotNil(t, resp)
	assert.Equal(t, "batch_pass_07", resp.ID)
	assert.Equal(t, "ended", resp.ProcessingStatus)
	assert.Contains(t, resp.ResultsURL, "batch_pass_07")
	assert.Equal(t, int64(38), resp.RequestCounts.Succeeded)
	assert.Equal(t, int64(2), resp.RequestCounts.Errored)
	assert.Equal(t, int64(0), resp.RequestCounts.Expired)
}

func TestFromSDKBatchResult(t *testing.T) {
	t.Run("succeeded carries the message", func(t *testing.T) {
		item := fromSDKBatchResult(sdk.MessageBatchIndividualResponse{
			CustomID: "nextstep-006A1",
			Result: sdk.MessageBatchResultUnion{
				Type: "succeeded",
				Message: sdk.Message{
					ID:         "msg_r1",
					Model:      "claude-haiku-4-5-20251001",
					StopReason: "end_turn",
					Content: []sdk.ContentBlockUnion{
						{Type: "text", Text: `{"due_date":null,"status":"no_activity"}`},
					},
					Usage: sdk.Usage{InputTokens: 300, OutputTokens: 25},
				},
			},
		})

		assert.Equal(t, "nextstep-006A1", item.CustomID)
		assert.Equal(t, "succeeded", item.Type)
		require.NotNil(t, item.Message)
		assert.Contains(t, item.Message.Content[0].Text, "no_activity")
		assert.Equal(t, int64(300), item.Message.Usage.InputTokens)
	})

	for _, failType := range []string{"errored", "canceled", "expired"} {
		t.Run(failType+" has no message", func(t *testing.T) {
			item := fromSDKBatchResult(sdk.MessageBatchIndividualResponse{
				CustomID: "nextstep-006B2",
				Result:   sdk.MessageBatchResultUnion{Type: failType},
			})
			assert.Equal(t, failType, item.Type)
			assert.Nil(t, item.Message)
		})
	}
}

func TestToSDKMessages(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "Deal: Acme Renewal. Next step: follow up after demo Thursday."},
		{Role: "assistant", Content: `{"due_date":"2026-09-03"}`},
		{Role: "somethingelse", Content: "treated as user"},
	}
	sdkMsgs := toSDKMessages(msgs)
	require.Len(t, sdkMsgs, 3)

	assert.Empty(t, toSDKMessages(nil))
}

func TestToSDKSystemBlocks(t *testing.T) {
	blocks := []SystemBlock{
		{Text: "Extraction instructions"},
		{Text: "Stage taxonomy and date rules", CacheControl: &CacheControl{TTL: "1h"}},
		{Text: "Trailer", CacheControl: &CacheControl{}},
	}

	sdkBlocks := toSDKSystemBlocks(blocks)
	require.Len(t, sdkBlocks, 3)
	assert.Equal(t, "Extraction instructions", sdkBlocks[0].Text)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("1h"), sdkBlocks[1].CacheControl.TTL)
	// Empty TTL still attaches a breakpoint at the SDK's default TTL.
	assert.Empty(t, sdkBlocks[2].CacheControl.TTL)
}
