package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/revops-dashboard/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testDeal(id, owner string, amount float64) model.DealSnapshot {
	closeDate := time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC)
	return model.DealSnapshot{
		ID:         id,
		Name:       "Deal " + id,
		Amount:     &amount,
		StageID:    "proposal",
		PipelineID: "default",
		OwnerID:    owner,
		CloseDate:  &closeDate,
		CreatedAt:  time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		NextStep:   "Send revised proposal by Friday",
		SyncedAt:   time.Date(2026, time.March, 16, 9, 0, 0, 0, time.UTC),
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("UpsertAndGetDeal", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.UpsertDeals(ctx, []model.DealSnapshot{testDeal("d1", "ae-1", 50000)})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.GetDeal(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, "Deal d1", got.Name)
		assert.Equal(t, "ae-1", got.OwnerID)
		assert.Equal(t, "proposal", got.StageID)
		require.NotNil(t, got.Amount)
		assert.InDelta(t, 50000, *got.Amount, 0.001)
	})

	t.Run("UpsertDealsOverwrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.UpsertDeals(ctx, []model.DealSnapshot{testDeal("d1", "ae-1", 50000)})
		require.NoError(t, err)

		updated := testDeal("d1", "ae-2", 80000)
		updated.StageID = "negotiation"
		_, err = s.UpsertDeals(ctx, []model.DealSnapshot{updated})
		require.NoError(t, err)

		got, err := s.GetDeal(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, "ae-2", got.OwnerID)
		assert.Equal(t, "negotiation", got.StageID)
	})

	t.Run("GetDeal_NotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetDeal(ctx, "nonexistent")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("ListDeals_Filters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.UpsertDeals(ctx, []model.DealSnapshot{
			testDeal("d1", "ae-1", 50000),
			testDeal("d2", "ae-1", 10000),
			testDeal("d3", "ae-2", 90000),
		})
		require.NoError(t, err)

		all, err := s.ListDeals(ctx, DealFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		byOwner, err := s.ListDeals(ctx, DealFilter{OwnerID: "ae-1"})
		require.NoError(t, err)
		assert.Len(t, byOwner, 2)

		big, err := s.ListDeals(ctx, DealFilter{MinAmount: 40000})
		require.NoError(t, err)
		assert.Len(t, big, 2)

		limited, err := s.ListDeals(ctx, DealFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("ListDeals_Empty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		deals, err := s.ListDeals(ctx, DealFilter{})
		require.NoError(t, err)
		assert.Empty(t, deals)
	})

	t.Run("UpdateNextStepExtraction", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.UpsertDeals(ctx, []model.DealSnapshot{testDeal("d1", "ae-1", 50000)})
		require.NoError(t, err)

		due := time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC)
		err = s.UpdateNextStepExtraction(ctx, "d1", model.NextStepExtraction{
			DueDate:    &due,
			Status:     model.NextStepDateFound,
			Confidence: 0.92,
		})
		require.NoError(t, err)

		got, err := s.GetDeal(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, model.NextStepDateFound, got.NextStepExtraction.Status)
		require.NotNil(t, got.NextStepExtraction.DueDate)
		assert.True(t, got.NextStepExtraction.DueDate.Equal(due))
		// The rest of the snapshot is untouched.
		assert.Equal(t, "Send revised proposal by Friday", got.NextStep)
	})

	t.Run("UpdateNextStepExtraction_NotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.UpdateNextStepExtraction(ctx, "nonexistent", model.NextStepExtraction{Status: model.NextStepEmpty})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("UpsertAndListOwners", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.UpsertOwners(ctx, []model.Owner{
			{ID: "ae-2", Name: "Blake", Email: "blake@example.com", Quota: 120000, IsActive: true},
			{ID: "ae-1", Name: "Avery", Email: "avery@example.com", Quota: 100000, IsActive: true},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		owners, err := s.ListOwners(ctx)
		require.NoError(t, err)
		require.Len(t, owners, 2)
		// Sorted by name.
		assert.Equal(t, "Avery", owners[0].Name)
		assert.InDelta(t, 100000, owners[0].Quota, 0.001)

		// Upsert updates in place.
		_, err = s.UpsertOwners(ctx, []model.Owner{
			{ID: "ae-1", Name: "Avery", Quota: 150000, IsActive: false},
		})
		require.NoError(t, err)

		owners, err = s.ListOwners(ctx)
		require.NoError(t, err)
		require.Len(t, owners, 2)
		assert.InDelta(t, 150000, owners[0].Quota, 0.001)
		assert.False(t, owners[0].IsActive)
	})

	t.Run("SaveAndListPipelines", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		closed := true
		err := s.SavePipelines(ctx, []model.Pipeline{
			{
				ID:    "default",
				Label: "Sales Pipeline",
				Stages: []model.StageMeta{
					{ID: "sql", Label: "SQL"},
					{ID: "proposal", Label: "Proposal"},
					{ID: "closed_won", Label: "Closed Won", IsClosed: &closed},
				},
			},
		})
		require.NoError(t, err)

		pipelines, err := s.ListPipelines(ctx)
		require.NoError(t, err)
		require.Len(t, pipelines, 1)
		assert.Equal(t, "Sales Pipeline", pipelines[0].Label)
		require.Len(t, pipelines[0].Stages, 3)
		require.NotNil(t, pipelines[0].Stages[2].IsClosed)
		assert.True(t, *pipelines[0].Stages[2].IsClosed)
	})

	t.Run("CommitmentLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		commitDate := time.Date(2026, time.March, 25, 0, 0, 0, 0, time.UTC)
		err := s.SaveCommitment(ctx, model.HygieneCommitment{
			DealID:         "d1",
			CommitmentDate: commitDate,
		})
		require.NoError(t, err)

		got, err := s.GetCommitment(ctx, "d1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, model.CommitmentPending, got.Status)
		assert.True(t, got.CommitmentDate.Equal(commitDate))

		err = s.UpdateCommitmentStatus(ctx, "d1", model.CommitmentFulfilled)
		require.NoError(t, err)

		got, err = s.GetCommitment(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, model.CommitmentFulfilled, got.Status)

		fulfilled, err := s.ListCommitments(ctx, model.CommitmentFulfilled)
		require.NoError(t, err)
		assert.Len(t, fulfilled, 1)

		pending, err := s.ListCommitments(ctx, model.CommitmentPending)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("GetCommitment_None", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		got, err := s.GetCommitment(ctx, "no-such-deal")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("UpdateCommitmentStatus_NotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.UpdateCommitmentStatus(ctx, "no-such-deal", model.CommitmentExpired)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("SyncRunLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.StartSyncRun(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.SyncStatusRunning, run.Status)

		err = s.CompleteSyncRun(ctx, run.ID, 42, 5)
		require.NoError(t, err)

		latest, err := s.LatestSyncRun(ctx)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, run.ID, latest.ID)
		assert.Equal(t, model.SyncStatusComplete, latest.Status)
		assert.Equal(t, 42, latest.DealCount)
		assert.Equal(t, 5, latest.OwnerCount)
		assert.NotNil(t, latest.CompletedAt)
	})

	t.Run("FailSyncRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.StartSyncRun(ctx)
		require.NoError(t, err)

		err = s.FailSyncRun(ctx, run.ID, "salesforce: query timeout")
		require.NoError(t, err)

		latest, err := s.LatestSyncRun(ctx)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, model.SyncStatusFailed, latest.Status)
		assert.Contains(t, latest.Error, "query timeout")
	})

	t.Run("LatestSyncRun_None", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		latest, err := s.LatestSyncRun(ctx)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("ReplaceAndListExceptions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		asOf := time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC)
		err := s.ReplaceExceptions(ctx, asOf, []model.ExceptionRecord{
			{ID: "x1", DealID: "d1", Type: model.ExceptionOverdueNextStep, Priority: 1, Amount: 90000},
			{ID: "x2", DealID: "d2", Type: model.ExceptionActivityDrought, Priority: 2, Amount: 10000},
		})
		require.NoError(t, err)

		records, err := s.ListExceptions(ctx, 0)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, model.ExceptionOverdueNextStep, records[0].Type)
		assert.Equal(t, "d1", records[0].DealID)

		// A new snapshot fully replaces the previous one.
		err = s.ReplaceExceptions(ctx, asOf.AddDate(0, 0, 1), []model.ExceptionRecord{
			{ID: "x3", DealID: "d3", Type: model.ExceptionPastCloseDate, Priority: 1},
		})
		require.NoError(t, err)

		records, err = s.ListExceptions(ctx, 0)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "d3", records[0].DealID)
	})

	t.Run("ListExceptions_Limit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		asOf := time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC)
		err := s.ReplaceExceptions(ctx, asOf, []model.ExceptionRecord{
			{ID: "x1", DealID: "d1", Type: model.ExceptionOverdueNextStep, Priority: 1},
			{ID: "x2", DealID: "d2", Type: model.ExceptionNoNextStep, Priority: 2},
			{ID: "x3", DealID: "d3", Type: model.ExceptionStaleStage, Priority: 3},
		})
		require.NoError(t, err)

		records, err := s.ListExceptions(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
