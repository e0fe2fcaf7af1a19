package digest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/revops-dashboard/internal/config"
	"github.com/sells-group/revops-dashboard/pkg/notion"
)

// Payload is the webhook body. Rendering to email or chat is the
// receiver's job; we hand over the structured digest plus the
// pre-rendered text.
type Payload struct {
	Subject     string    `json:"subject"`
	GeneratedAt time.Time `json:"generated_at"`
	Quarter     string    `json:"quarter"`
	Week        int       `json:"week"`
	Status      string    `json:"status"`
	Body        string    `json:"body"`
	Digest      *Digest   `json:"digest"`
}

// Sender delivers an assembled digest to the configured webhook.
type Sender struct {
	cfg    config.DigestConfig
	client *http.Client
}

// NewSender creates a Sender.
func NewSender(cfg config.DigestConfig) *Sender {
	return &Sender{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the digest to the webhook URL. A missing URL is not an
// error; the digest is simply not delivered.
func (s *Sender) Send(ctx context.Context, d *Digest) error {
	if s.cfg.WebhookURL == "" {
		zap.L().Debug("digest: webhook not configured, skipping delivery")
		return nil
	}

	payload, err := json.Marshal(Payload{
		Subject:     fmt.Sprintf("Weekly Revenue Digest | %s week %d", d.Quarter, d.Week),
		GeneratedAt: d.GeneratedAt,
		Quarter:     d.Quarter,
		Week:        d.Week,
		Status:      string(d.TeamStatus),
		Body:        strings.Join(d.Lines, "\n"),
		Digest:      d,
	})
	if err != nil {
		return eris.Wrap(err, "digest: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "digest: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "digest: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("digest: webhook returned status %d", resp.StatusCode)
	}

	zap.L().Info("digest delivered",
		zap.String("component", "digest"),
		zap.String("quarter", d.Quarter),
		zap.Int("week", d.Week),
	)
	return nil
}

// NotionPage maps the digest onto the page shape consumed by
// notion.PublishDigest.
func NotionPage(d *Digest) notion.DigestPage {
	return notion.DigestPage{
		Title:           fmt.Sprintf("Revenue Digest | %s week %d", d.Quarter, d.Week),
		Date:            d.GeneratedAt,
		Status:          string(d.TeamStatus),
		TotalExceptions: d.TotalExceptions,
		RedOwners:       d.RedOwners,
		Body:            d.Lines,
	}
}
