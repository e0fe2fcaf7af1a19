package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/revops-dashboard/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs
// local development and single-operator installs; Postgres is the
// production store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL DEFAULT '',
	stage_id    TEXT NOT NULL,
	pipeline_id TEXT NOT NULL DEFAULT '',
	amount      REAL,
	close_date  DATETIME,
	snapshot    TEXT NOT NULL,
	synced_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_deals_owner_id ON deals(owner_id);
CREATE INDEX IF NOT EXISTS idx_deals_stage_id ON deals(stage_id);

CREATE TABLE IF NOT EXISTS owners (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	email     TEXT NOT NULL DEFAULT '',
	quota     REAL NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	synced_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pipelines (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL,
	stages     TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS hygiene_commitments (
	deal_id         TEXT PRIMARY KEY,
	commitment_date DATETIME NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	deal_count   INTEGER NOT NULL DEFAULT 0,
	owner_count  INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS deal_exceptions (
	id             TEXT NOT NULL,
	deal_id        TEXT NOT NULL,
	deal_name      TEXT NOT NULL DEFAULT '',
	owner_id       TEXT NOT NULL DEFAULT '',
	exception_type TEXT NOT NULL,
	detail         TEXT NOT NULL DEFAULT '',
	priority       INTEGER NOT NULL,
	amount         REAL NOT NULL DEFAULT 0,
	as_of          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deal_exceptions_priority ON deal_exceptions(priority);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertDeals(ctx context.Context, deals []model.DealSnapshot) (int, error) {
	count := 0
	for _, d := range deals {
		snapshot, err := json.Marshal(d)
		if err != nil {
			return count, eris.Wrapf(err, "sqlite: marshal deal %s", d.ID)
		}
		syncedAt := d.SyncedAt
		if syncedAt.IsZero() {
			syncedAt = time.Now().UTC()
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO deals (id, owner_id, stage_id, pipeline_id, amount, close_date, snapshot, synced_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   owner_id = excluded.owner_id, stage_id = excluded.stage_id, pipeline_id = excluded.pipeline_id,
			   amount = excluded.amount, close_date = excluded.close_date, snapshot = excluded.snapshot,
			   synced_at = excluded.synced_at`,
			d.ID, d.OwnerID, d.StageID, d.PipelineID, d.Amount, d.CloseDate, string(snapshot), syncedAt,
		)
		if err != nil {
			return count, eris.Wrapf(err, "sqlite: upsert deal %s", d.ID)
		}
		count++
	}
	return count, nil
}

func (s *SQLiteStore) GetDeal(ctx context.Context, dealID string) (*model.DealSnapshot, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM deals WHERE id = ?`,
		dealID,
	).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("deal not found: %s", dealID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get deal %s", dealID)
	}

	var d model.DealSnapshot
	if err := json.Unmarshal([]byte(snapshot), &d); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal deal")
	}
	return &d, nil
}

func (s *SQLiteStore) ListDeals(ctx context.Context, filter DealFilter) ([]model.DealSnapshot, error) {
	query := `SELECT snapshot FROM deals WHERE 1=1`
	var args []any

	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	if filter.StageID != "" {
		query += ` AND stage_id = ?`
		args = append(args, filter.StageID)
	}
	if filter.PipelineID != "" {
		query += ` AND pipeline_id = ?`
		args = append(args, filter.PipelineID)
	}
	if filter.MinAmount > 0 {
		query += ` AND amount >= ?`
		args = append(args, filter.MinAmount)
	}
	query += ` ORDER BY synced_at DESC, id`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list deals")
	}
	defer rows.Close()

	var deals []model.DealSnapshot
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deal")
		}
		var d model.DealSnapshot
		if err := json.Unmarshal([]byte(snapshot), &d); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal deal")
		}
		deals = append(deals, d)
	}
	return deals, eris.Wrap(rows.Err(), "sqlite: list deals iterate")
}

func (s *SQLiteStore) UpdateNextStepExtraction(ctx context.Context, dealID string, ext model.NextStepExtraction) error {
	deal, err := s.GetDeal(ctx, dealID)
	if err != nil {
		return err
	}
	deal.NextStepExtraction = ext

	snapshot, err := json.Marshal(deal)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal deal")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE deals SET snapshot = ? WHERE id = ?`,
		string(snapshot), dealID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update extraction %s", dealID)
	}
	return checkRowsAffected(res, "deal", dealID)
}

func (s *SQLiteStore) UpsertOwners(ctx context.Context, owners []model.Owner) (int, error) {
	count := 0
	for _, o := range owners {
		syncedAt := o.SyncedAt
		if syncedAt.IsZero() {
			syncedAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO owners (id, name, email, quota, is_active, synced_at) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   name = excluded.name, email = excluded.email, quota = excluded.quota,
			   is_active = excluded.is_active, synced_at = excluded.synced_at`,
			o.ID, o.Name, o.Email, o.Quota, o.IsActive, syncedAt,
		)
		if err != nil {
			return count, eris.Wrapf(err, "sqlite: upsert owner %s", o.ID)
		}
		count++
	}
	return count, nil
}

func (s *SQLiteStore) ListOwners(ctx context.Context) ([]model.Owner, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, quota, is_active, synced_at FROM owners ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list owners")
	}
	defer rows.Close()

	var owners []model.Owner
	for rows.Next() {
		var o model.Owner
		if err := rows.Scan(&o.ID, &o.Name, &o.Email, &o.Quota, &o.IsActive, &o.SyncedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan owner")
		}
		owners = append(owners, o)
	}
	return owners, eris.Wrap(rows.Err(), "sqlite: list owners iterate")
}

func (s *SQLiteStore) SavePipelines(ctx context.Context, pipelines []model.Pipeline) error {
	now := time.Now().UTC()
	for _, p := range pipelines {
		stagesJSON, err := json.Marshal(p.Stages)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal stages for %s", p.ID)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO pipelines (id, label, stages, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET label = excluded.label, stages = excluded.stages, updated_at = excluded.updated_at`,
			p.ID, p.Label, string(stagesJSON), now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save pipeline %s", p.ID)
		}
	}
	return nil
}

func (s *SQLiteStore) ListPipelines(ctx context.Context) ([]model.Pipeline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, stages FROM pipelines ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pipelines")
	}
	defer rows.Close()

	var pipelines []model.Pipeline
	for rows.Next() {
		var p model.Pipeline
		var stagesJSON string
		if err := rows.Scan(&p.ID, &p.Label, &stagesJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pipeline")
		}
		if err := json.Unmarshal([]byte(stagesJSON), &p.Stages); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal stages")
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, eris.Wrap(rows.Err(), "sqlite: list pipelines iterate")
}

func (s *SQLiteStore) SaveCommitment(ctx context.Context, c model.HygieneCommitment) error {
	now := time.Now().UTC()
	status := c.Status
	if status == "" {
		status = model.CommitmentPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hygiene_commitments (deal_id, commitment_date, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (deal_id) DO UPDATE SET
		   commitment_date = excluded.commitment_date, status = excluded.status, updated_at = excluded.updated_at`,
		c.DealID, c.CommitmentDate, string(status), now, now,
	)
	return eris.Wrapf(err, "sqlite: save commitment %s", c.DealID)
}

func (s *SQLiteStore) GetCommitment(ctx context.Context, dealID string) (*model.HygieneCommitment, error) {
	var c model.HygieneCommitment
	err := s.db.QueryRowContext(ctx,
		`SELECT deal_id, commitment_date, status, created_at, updated_at FROM hygiene_commitments WHERE deal_id = ?`,
		dealID,
	).Scan(&c.DealID, &c.CommitmentDate, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get commitment %s", dealID)
	}
	return &c, nil
}

func (s *SQLiteStore) ListCommitments(ctx context.Context, status model.CommitmentStatus) ([]model.HygieneCommitment, error) {
	query := `SELECT deal_id, commitment_date, status, created_at, updated_at FROM hygiene_commitments`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY commitment_date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list commitments")
	}
	defer rows.Close()

	var commitments []model.HygieneCommitment
	for rows.Next() {
		var c model.HygieneCommitment
		if err := rows.Scan(&c.DealID, &c.CommitmentDate, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan commitment")
		}
		commitments = append(commitments, c)
	}
	return commitments, eris.Wrap(rows.Err(), "sqlite: list commitments iterate")
}

func (s *SQLiteStore) UpdateCommitmentStatus(ctx context.Context, dealID string, status model.CommitmentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE hygiene_commitments SET status = ?, updated_at = ? WHERE deal_id = ?`,
		string(status), time.Now().UTC(), dealID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update commitment status %s", dealID)
	}
	return checkRowsAffected(res, "commitment", dealID)
}

func (s *SQLiteStore) StartSyncRun(ctx context.Context) (*model.SyncRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, status, started_at) VALUES (?, ?, ?)`,
		id, string(model.SyncStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: start sync run")
	}

	return &model.SyncRun{
		ID:        id,
		Status:    model.SyncStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteSyncRun(ctx context.Context, runID string, dealCount, ownerCount int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, deal_count = ?, owner_count = ?, completed_at = ? WHERE id = ?`,
		string(model.SyncStatusComplete), dealCount, ownerCount, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete sync run %s", runID)
	}
	return checkRowsAffected(res, "sync run", runID)
}

func (s *SQLiteStore) FailSyncRun(ctx context.Context, runID string, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.SyncStatusFailed), cause, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail sync run %s", runID)
	}
	return checkRowsAffected(res, "sync run", runID)
}

func (s *SQLiteStore) LatestSyncRun(ctx context.Context) (*model.SyncRun, error) {
	var r model.SyncRun
	var errMsg sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, deal_count, owner_count, error, started_at, completed_at FROM sync_runs
		 ORDER BY started_at DESC LIMIT 1`,
	).Scan(&r.ID, &r.Status, &r.DealCount, &r.OwnerCount, &errMsg, &r.StartedAt, &r.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest sync run")
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	return &r, nil
}

func (s *SQLiteStore) ReplaceExceptions(ctx context.Context, asOf time.Time, records []model.ExceptionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace exceptions")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM deal_exceptions`); err != nil {
		return eris.Wrap(err, "sqlite: clear exceptions")
	}
	for _, r := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO deal_exceptions (id, deal_id, deal_name, owner_id, exception_type, detail, priority, amount, as_of)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.DealID, r.DealName, r.OwnerID, string(r.Type), r.Detail, r.Priority, r.Amount, asOf,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert exception %s", r.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace exceptions")
}

func (s *SQLiteStore) ListExceptions(ctx context.Context, limit int) ([]model.ExceptionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deal_id, deal_name, owner_id, exception_type, detail, priority, amount FROM deal_exceptions
		 ORDER BY priority LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list exceptions")
	}
	defer rows.Close()

	var records []model.ExceptionRecord
	for rows.Next() {
		var r model.ExceptionRecord
		if err := rows.Scan(&r.ID, &r.DealID, &r.DealName, &r.OwnerID, &r.Type, &r.Detail, &r.Priority, &r.Amount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan exception")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list exceptions iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
