package store

import (
	"context"
	"time"

	"github.com/sells-group/revops-dashboard/internal/model"
)

// DealFilter specifies criteria for listing mirrored deals.
type DealFilter struct {
	OwnerID    string  `json:"owner_id,omitempty"`
	StageID    string  `json:"stage_id,omitempty"`
	PipelineID string  `json:"pipeline_id,omitempty"`
	MinAmount  float64 `json:"min_amount,omitempty"`
	Limit      int     `json:"limit,omitempty"`
	Offset     int     `json:"offset,omitempty"`
}

// Store defines the persistence interface for the CRM mirror and the
// engine's derived snapshots.
type Store interface {
	// Deals
	UpsertDeals(ctx context.Context, deals []model.DealSnapshot) (int, error)
	GetDeal(ctx context.Context, dealID string) (*model.DealSnapshot, error)
	ListDeals(ctx context.Context, filter DealFilter) ([]model.DealSnapshot, error)
	UpdateNextStepExtraction(ctx context.Context, dealID string, ext model.NextStepExtraction) error

	// Owners
	UpsertOwners(ctx context.Context, owners []model.Owner) (int, error)
	ListOwners(ctx context.Context) ([]model.Owner, error)

	// Pipelines
	SavePipelines(ctx context.Context, pipelines []model.Pipeline) error
	ListPipelines(ctx context.Context) ([]model.Pipeline, error)

	// Hygiene commitments, keyed by deal. Fulfilment is written by
	// CRM-side automation; the engine only reads and expires.
	SaveCommitment(ctx context.Context, c model.HygieneCommitment) error
	GetCommitment(ctx context.Context, dealID string) (*model.HygieneCommitment, error)
	ListCommitments(ctx context.Context, status model.CommitmentStatus) ([]model.HygieneCommitment, error)
	UpdateCommitmentStatus(ctx context.Context, dealID string, status model.CommitmentStatus) error

	// Sync runs
	StartSyncRun(ctx context.Context) (*model.SyncRun, error)
	CompleteSyncRun(ctx context.Context, runID string, dealCount, ownerCount int) error
	FailSyncRun(ctx context.Context, runID string, cause string) error
	LatestSyncRun(ctx context.Context) (*model.SyncRun, error)

	// Exception snapshots for the dashboard queue
	ReplaceExceptions(ctx context.Context, asOf time.Time, records []model.ExceptionRecord) error
	ListExceptions(ctx context.Context, limit int) ([]model.ExceptionRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
