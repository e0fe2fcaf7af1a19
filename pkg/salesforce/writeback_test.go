package salesforce

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateOpportunity(t *testing.T) {
	var gotObject, gotID string
	var gotFields map[string]any
	mock := &mockClient{
		updateOneFn: func(_ context.Context, sObjectName, id string, fields map[string]any) error {
			gotObject = sObjectName
			gotID = id
			gotFields = fields
			return nil
		},
	}

	err := UpdateOpportunity(context.Background(), mock, "006aa", map[string]any{
		"Next_Activity_Date__c": "2026-03-20",
	})
	require.NoError(t, err)
	assert.Equal(t, "Opportunity", gotObject)
	assert.Equal(t, "006aa", gotID)
	assert.Equal(t, "2026-03-20", gotFields["Next_Activity_Date__c"])
}

func TestUpdateOpportunity_Validation(t *testing.T) {
	mock := &mockClient{
		updateOneFn: func(_ context.Context, _, _ string, _ map[string]any) error {
			t.Fatal("update should not be called")
			return nil
		},
	}

	t.Run("missing id", func(t *testing.T) {
		err := UpdateOpportunity(context.Background(), mock, "", map[string]any{"NextStep": "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "id is required")
	})

	t.Run("no fields", func(t *testing.T) {
		err := UpdateOpportunity(context.Background(), mock, "006aa", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no fields")
	})
}

func TestUpdateOpportunity_Error(t *testing.T) {
	mock := &mockClient{
		updateOneFn: func(_ context.Context, _, _ string, _ map[string]any) error {
			return errors.New("locked row")
		},
	}

	err := UpdateOpportunity(context.Background(), mock, "006aa", map[string]any{"NextStep": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sf: update opportunity 006aa")
}

func TestBulkUpdateOpportunities_Empty(t *testing.T) {
	mock := &mockClient{
		updateCollectionFn: func(_ context.Context, _ string, _ []CollectionRecord) ([]CollectionResult, error) {
			t.Fatal("update collection should not be called")
			return nil, nil
		},
	}

	results, err := BulkUpdateOpportunities(context.Background(), mock, nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestBulkUpdateOpportunities_SingleBatch(t *testing.T) {
	mock := &mockClient{
		updateCollectionFn: func(_ context.Context, sObjectName string, records []CollectionRecord) ([]CollectionResult, error) {
			assert.Equal(t, "Opportunity", sObjectName)
			results := make([]CollectionResult, len(records))
			for i, r := range records {
				results[i] = CollectionResult{ID: r.ID, Success: true}
			}
			return results, nil
		},
	}

	updates := []OpportunityUpdate{
		{ID: "006aa", Fields: map[string]any{"NextStep": "A"}},
		{ID: "006bb", Fields: map[string]any{"NextStep": "B"}},
	}
	results, err := BulkUpdateOpportunities(context.Background(), mock, updates)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "006aa", results[0].ID)
	assert.True(t, results[1].Success)
}

func TestBulkUpdateOpportunities_SplitsBatches(t *testing.T) {
	var batchSizes []int
	mock := &mockClient{
		updateCollectionFn: func(_ context.Context, _ string, records []CollectionRecord) ([]CollectionResult, error) {
			batchSizes = append(batchSizes, len(records))
			results := make([]CollectionResult, len(records))
			for i, r := range records {
				results[i] = CollectionResult{ID: r.ID, Success: true}
			}
			return results, nil
		},
	}

	updates := make([]OpportunityUpdate, 0, 410)
	for i := 0; i < 410; i++ {
		updates = append(updates, OpportunityUpdate{
			ID:     fmt.Sprintf("006%06d", i),
			Fields: map[string]any{"NextStep": "x"},
		})
	}

	results, err := BulkUpdateOpportunities(context.Background(), mock, updates)
	require.NoError(t, err)
	assert.Equal(t, []int{200, 200, 10}, batchSizes)
	assert.Len(t, results, 410)
}

func TestBulkUpdateOpportunities_BatchError(t *testing.T) {
	calls := 0
	mock := &mockClient{
		updateCollectionFn: func(_ context.Context, _ string, records []CollectionRecord) ([]CollectionResult, error) {
			calls++
			if calls == 2 {
				return nil, errors.New("server unavailable")
			}
			results := make([]CollectionResult, len(records))
			for i, r := range records {
				results[i] = CollectionResult{ID: r.ID, Success: true}
			}
			return results, nil
		},
	}

	updates := make([]OpportunityUpdate, 0, 250)
	for i := 0; i < 250; i++ {
		updates = append(updates, OpportunityUpdate{
			ID:     fmt.Sprintf("006%06d", i),
			Fields: map[string]any{"NextStep": "x"},
		})
	}

	results, err := BulkUpdateOpportunities(context.Background(), mock, updates)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch 1")
	// First batch succeeded before the failure.
	assert.Len(t, results, 200)
}
