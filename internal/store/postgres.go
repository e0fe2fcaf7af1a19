package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/revops-dashboard/internal/db"
	"github.com/sells-group/revops-dashboard/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_deal":          `SELECT snapshot FROM deals WHERE id = $1`,
	"update_extraction": `UPDATE deals SET snapshot = jsonb_set(snapshot, '{next_step_extraction}', $1::jsonb) WHERE id = $2`,
	"get_commitment":    `SELECT deal_id, commitment_date, status, created_at, updated_at FROM hygiene_commitments WHERE deal_id = $1`,
	"latest_sync_run":   `SELECT id, status, deal_count, owner_count, error, started_at, completed_at FROM sync_runs ORDER BY started_at DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL DEFAULT '',
	stage_id    TEXT NOT NULL,
	pipeline_id TEXT NOT NULL DEFAULT '',
	amount      DOUBLE PRECISION,
	close_date  TIMESTAMPTZ,
	snapshot    JSONB NOT NULL,
	synced_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deals_owner_id ON deals(owner_id);
CREATE INDEX IF NOT EXISTS idx_deals_stage_id ON deals(stage_id);
CREATE INDEX IF NOT EXISTS idx_deals_pipeline_id ON deals(pipeline_id);
CREATE INDEX IF NOT EXISTS idx_deals_close_date ON deals(close_date);

CREATE TABLE IF NOT EXISTS owners (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	email     TEXT NOT NULL DEFAULT '',
	quota     DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT true,
	synced_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipelines (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL,
	stages     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS hygiene_commitments (
	deal_id         TEXT PRIMARY KEY,
	commitment_date TIMESTAMPTZ NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_hygiene_commitments_status ON hygiene_commitments(status);

CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	deal_count   INTEGER NOT NULL DEFAULT 0,
	owner_count  INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at DESC);

CREATE TABLE IF NOT EXISTS deal_exceptions (
	id             TEXT NOT NULL,
	deal_id        TEXT NOT NULL,
	deal_name      TEXT NOT NULL DEFAULT '',
	owner_id       TEXT NOT NULL DEFAULT '',
	exception_type TEXT NOT NULL,
	detail         TEXT NOT NULL DEFAULT '',
	priority       INTEGER NOT NULL,
	amount         DOUBLE PRECISION NOT NULL DEFAULT 0,
	as_of          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deal_exceptions_priority ON deal_exceptions(priority);
CREATE INDEX IF NOT EXISTS idx_deal_exceptions_owner_id ON deal_exceptions(owner_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// dealColumns is the column list for the deals bulk upsert. The
// extracted columns exist for filtering; snapshot is authoritative.
var dealColumns = []string{"id", "owner_id", "stage_id", "pipeline_id", "amount", "close_date", "snapshot", "synced_at"}

func (s *PostgresStore) UpsertDeals(ctx context.Context, deals []model.DealSnapshot) (int, error) {
	if len(deals) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(deals))
	for _, d := range deals {
		snapshot, err := json.Marshal(d)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal deal %s", d.ID)
		}
		syncedAt := d.SyncedAt
		if syncedAt.IsZero() {
			syncedAt = time.Now().UTC()
		}
		rows = append(rows, []any{d.ID, d.OwnerID, d.StageID, d.PipelineID, d.Amount, d.CloseDate, snapshot, syncedAt})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "deals",
		Columns:      dealColumns,
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert deals")
	}
	return int(n), nil
}

func (s *PostgresStore) GetDeal(ctx context.Context, dealID string) (*model.DealSnapshot, error) {
	var snapshot []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM deals WHERE id = $1`,
		dealID,
	).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("deal not found: %s", dealID)
		}
		return nil, eris.Wrapf(err, "postgres: get deal %s", dealID)
	}

	var d model.DealSnapshot
	if err := json.Unmarshal(snapshot, &d); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal deal")
	}
	return &d, nil
}

func (s *PostgresStore) ListDeals(ctx context.Context, filter DealFilter) ([]model.DealSnapshot, error) {
	query := `SELECT snapshot FROM deals WHERE true`
	args := []any{}
	argIdx := 1

	if filter.OwnerID != "" {
		query += fmt.Sprintf(` AND owner_id = $%d`, argIdx)
		args = append(args, filter.OwnerID)
		argIdx++
	}
	if filter.StageID != "" {
		query += fmt.Sprintf(` AND stage_id = $%d`, argIdx)
		args = append(args, filter.StageID)
		argIdx++
	}
	if filter.PipelineID != "" {
		query += fmt.Sprintf(` AND pipeline_id = $%d`, argIdx)
		args = append(args, filter.PipelineID)
		argIdx++
	}
	if filter.MinAmount > 0 {
		query += fmt.Sprintf(` AND amount >= $%d`, argIdx)
		args = append(args, filter.MinAmount)
		argIdx++
	}
	query += ` ORDER BY synced_at DESC, id`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list deals")
	}
	defer rows.Close()

	var deals []model.DealSnapshot
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, eris.Wrap(err, "postgres: scan deal")
		}
		var d model.DealSnapshot
		if err := json.Unmarshal(snapshot, &d); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal deal")
		}
		deals = append(deals, d)
	}
	return deals, eris.Wrap(rows.Err(), "postgres: list deals iterate")
}

func (s *PostgresStore) UpdateNextStepExtraction(ctx context.Context, dealID string, ext model.NextStepExtraction) error {
	extJSON, err := json.Marshal(ext)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal extraction")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE deals SET snapshot = jsonb_set(snapshot, '{next_step_extraction}', $1::jsonb) WHERE id = $2`,
		extJSON, dealID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update extraction %s", dealID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("deal not found: %s", dealID)
	}
	return nil
}

func (s *PostgresStore) UpsertOwners(ctx context.Context, owners []model.Owner) (int, error) {
	count := 0
	for _, o := range owners {
		syncedAt := o.SyncedAt
		if syncedAt.IsZero() {
			syncedAt = time.Now().UTC()
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO owners (id, name, email, quota, is_active, synced_at) VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO UPDATE SET name = $2, email = $3, quota = $4, is_active = $5, synced_at = $6`,
			o.ID, o.Name, o.Email, o.Quota, o.IsActive, syncedAt,
		)
		if err != nil {
			return count, eris.Wrapf(err, "postgres: upsert owner %s", o.ID)
		}
		count++
	}
	return count, nil
}

func (s *PostgresStore) ListOwners(ctx context.Context) ([]model.Owner, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, email, quota, is_active, synced_at FROM owners ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list owners")
	}
	defer rows.Close()

	var owners []model.Owner
	for rows.Next() {
		var o model.Owner
		if err := rows.Scan(&o.ID, &o.Name, &o.Email, &o.Quota, &o.IsActive, &o.SyncedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan owner")
		}
		owners = append(owners, o)
	}
	return owners, eris.Wrap(rows.Err(), "postgres: list owners iterate")
}

func (s *PostgresStore) SavePipelines(ctx context.Context, pipelines []model.Pipeline) error {
	now := time.Now().UTC()
	for _, p := range pipelines {
		stagesJSON, err := json.Marshal(p.Stages)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal stages for %s", p.ID)
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO pipelines (id, label, stages, updated_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET label = $2, stages = $3, updated_at = $4`,
			p.ID, p.Label, stagesJSON, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: save pipeline %s", p.ID)
		}
	}
	return nil
}

func (s *PostgresStore) ListPipelines(ctx context.Context) ([]model.Pipeline, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, label, stages FROM pipelines ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pipelines")
	}
	defer rows.Close()

	var pipelines []model.Pipeline
	for rows.Next() {
		var p model.Pipeline
		var stagesJSON []byte
		if err := rows.Scan(&p.ID, &p.Label, &stagesJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pipeline")
		}
		if err := json.Unmarshal(stagesJSON, &p.Stages); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal stages")
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, eris.Wrap(rows.Err(), "postgres: list pipelines iterate")
}

func (s *PostgresStore) SaveCommitment(ctx context.Context, c model.HygieneCommitment) error {
	now := time.Now().UTC()
	status := c.Status
	if status == "" {
		status = model.CommitmentPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO hygiene_commitments (deal_id, commitment_date, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (deal_id) DO UPDATE SET commitment_date = $2, status = $3, updated_at = $5`,
		c.DealID, c.CommitmentDate, string(status), now, now,
	)
	return eris.Wrapf(err, "postgres: save commitment %s", c.DealID)
}

func (s *PostgresStore) GetCommitment(ctx context.Context, dealID string) (*model.HygieneCommitment, error) {
	var c model.HygieneCommitment
	err := s.pool.QueryRow(ctx,
		`SELECT deal_id, commitment_date, status, created_at, updated_at FROM hygiene_commitments WHERE deal_id = $1`,
		dealID,
	).Scan(&c.DealID, &c.CommitmentDate, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get commitment %s", dealID)
	}
	return &c, nil
}

func (s *PostgresStore) ListCommitments(ctx context.Context, status model.CommitmentStatus) ([]model.HygieneCommitment, error) {
	query := `SELECT deal_id, commitment_date, status, created_at, updated_at FROM hygiene_commitments`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY commitment_date`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list commitments")
	}
	defer rows.Close()

	var commitments []model.HygieneCommitment
	for rows.Next() {
		var c model.HygieneCommitment
		if err := rows.Scan(&c.DealID, &c.CommitmentDate, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan commitment")
		}
		commitments = append(commitments, c)
	}
	return commitments, eris.Wrap(rows.Err(), "postgres: list commitments iterate")
}

func (s *PostgresStore) UpdateCommitmentStatus(ctx context.Context, dealID string, status model.CommitmentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE hygiene_commitments SET status = $1, updated_at = $2 WHERE deal_id = $3`,
		string(status), time.Now().UTC(), dealID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update commitment status %s", dealID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("commitment not found: %s", dealID)
	}
	return nil
}

func (s *PostgresStore) StartSyncRun(ctx context.Context) (*model.SyncRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, status, started_at) VALUES ($1, $2, $3)`,
		id, string(model.SyncStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: start sync run")
	}

	return &model.SyncRun{
		ID:        id,
		Status:    model.SyncStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteSyncRun(ctx context.Context, runID string, dealCount, ownerCount int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, deal_count = $2, owner_count = $3, completed_at = $4 WHERE id = $5`,
		string(model.SyncStatusComplete), dealCount, ownerCount, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete sync run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sync run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailSyncRun(ctx context.Context, runID string, cause string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(model.SyncStatusFailed), cause, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail sync run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sync run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) LatestSyncRun(ctx context.Context) (*model.SyncRun, error) {
	var r model.SyncRun
	var errMsg *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, deal_count, owner_count, error, started_at, completed_at FROM sync_runs
		 ORDER BY started_at DESC LIMIT 1`,
	).Scan(&r.ID, &r.Status, &r.DealCount, &r.OwnerCount, &errMsg, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest sync run")
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	return &r, nil
}

// exceptionColumns is the column list for the exception snapshot COPY.
var exceptionColumns = []string{"id", "deal_id", "deal_name", "owner_id", "exception_type", "detail", "priority", "amount", "as_of"}

func (s *PostgresStore) ReplaceExceptions(ctx context.Context, asOf time.Time, records []model.ExceptionRecord) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM deal_exceptions`); err != nil {
		return eris.Wrap(err, "postgres: clear exceptions")
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{r.ID, r.DealID, r.DealName, r.OwnerID, string(r.Type), r.Detail, r.Priority, r.Amount, asOf})
	}
	if _, err := db.CopyFrom(ctx, s.pool, "deal_exceptions", exceptionColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: copy exceptions")
	}
	return nil
}

func (s *PostgresStore) ListExceptions(ctx context.Context, limit int) ([]model.ExceptionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, deal_id, deal_name, owner_id, exception_type, detail, priority, amount FROM deal_exceptions
		 ORDER BY priority LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list exceptions")
	}
	defer rows.Close()

	var records []model.ExceptionRecord
	for rows.Next() {
		var r model.ExceptionRecord
		if err := rows.Scan(&r.ID, &r.DealID, &r.DealName, &r.OwnerID, &r.Type, &r.Detail, &r.Priority, &r.Amount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan exception")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list exceptions iterate")
}
