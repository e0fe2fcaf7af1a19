package extractor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/revops-dashboard/internal/model"
	"github.com/sells-group/revops-dashboard/pkg/anthropic"
)

// systemText instructs the model on the extraction contract. Every
// status spelling must match what the risk engine expects.
const systemText = `You are a revenue operations assistant. Given the free-text "next step" an account executive wrote on a deal, determine the committed due date.

Return a valid JSON object:
{"due_date": "YYYY-MM-DD" or null, "status": "<status>", "confidence": <0.0-1.0>, "display_message": "<short human-readable summary>"}

Status must be one of:
- "date-found": the text states an explicit date
- "date-inferred": the text implies a date relative to today ("Friday", "next week", "EOM")
- "no-date": a concrete action with no date attached
- "date-unclear": a date reference too vague to resolve ("soon", "Q3ish")
- "awaiting-external": the action waits on the prospect or a third party
- "unparseable": the text is not a next step at all

Resolve relative dates against today's date given in the prompt. Never invent a date the text does not support.`

// promptTemplate carries the deal context. Close date is included so
// "before close" style references can be resolved.
const promptTemplate = `Today's date: %s

Deal: %s
Stage: %s%s

Next step text:
%s`

// buildPrompt renders the per-deal user message.
func buildPrompt(d model.DealSnapshot, asOf time.Time) string {
	closeCtx := ""
	if d.CloseDate != nil {
		closeCtx = fmt.Sprintf("\nClose date: %s", d.CloseDate.Format("2006-01-02"))
	}
	return fmt.Sprintf(promptTemplate,
		asOf.Format("Monday, 2006-01-02"),
		d.Name,
		d.StageID,
		closeCtx,
		d.NextStep,
	)
}

// rawExtraction is the wire shape the model returns.
type rawExtraction struct {
	DueDate        *string  `json:"due_date"`
	Status         string   `json:"status"`
	Confidence     *float64 `json:"confidence"`
	DisplayMessage string   `json:"display_message"`
}

// validStatuses are the spellings the engine accepts from the model.
// "empty" is stamped locally and never requested from the model.
var validStatuses = map[model.NextStepStatus]bool{
	model.NextStepDateFound:        true,
	model.NextStepDateInferred:     true,
	model.NextStepNoDate:           true,
	model.NextStepDateUnclear:      true,
	model.NextStepAwaitingExternal: true,
	model.NextStepUnparseable:      true,
}

// parseExtraction converts model output into a NextStepExtraction.
// Anything malformed degrades to unparseable with zero confidence; a
// committed status without a resolvable date degrades to date-unclear.
func parseExtraction(text string) model.NextStepExtraction {
	var raw rawExtraction
	if err := json.Unmarshal([]byte(cleanJSON(text)), &raw); err != nil {
		zap.L().Warn("extractor: unparseable model output", zap.Error(err))
		return model.NextStepExtraction{Status: model.NextStepUnparseable}
	}

	status := model.NextStepStatus(strings.TrimSpace(raw.Status))
	if !validStatuses[status] {
		zap.L().Warn("extractor: unknown extraction status", zap.String("status", raw.Status))
		return model.NextStepExtraction{Status: model.NextStepUnparseable}
	}

	ext := model.NextStepExtraction{
		Status:         status,
		DisplayMessage: raw.DisplayMessage,
	}
	if raw.Confidence != nil {
		ext.Confidence = clamp01(*raw.Confidence)
	}

	if raw.DueDate != nil && *raw.DueDate != "" {
		due, err := time.Parse("2006-01-02", *raw.DueDate)
		if err != nil {
			zap.L().Warn("extractor: unparseable due date", zap.String("value", *raw.DueDate))
			if status.Committed() {
				ext.Status = model.NextStepDateUnclear
			}
		} else {
			due = due.UTC()
			ext.DueDate = &due
		}
	} else if status.Committed() {
		// A committed status requires a date.
		ext.Status = model.NextStepDateUnclear
	}

	return ext
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// extractText concatenates all text content blocks from a message response.
func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
