package salesforce

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// maxBatchSize is the Salesforce Collections API limit per request.
const maxBatchSize = 200

// OpportunityUpdate holds an opportunity ID and the fields to write back.
type OpportunityUpdate struct {
	ID     string
	Fields map[string]any
}

// UpdateOpportunity updates a single Opportunity record with the given fields.
func UpdateOpportunity(ctx context.Context, c Client, oppID string, fields map[string]any) error {
	if oppID == "" {
		return eris.New("sf: opportunity id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, "Opportunity", oppID, fields); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update opportunity %s", oppID))
	}
	return nil
}

// FieldUpdateable reports whether the named Opportunity field exists
// and accepts updates in the connected org. Callers check before a
// bulk write-back so a missing custom field fails the pass up front
// instead of rejecting every record.
func FieldUpdateable(ctx context.Context, c Client, field string) (bool, error) {
	desc, err := c.DescribeSObject(ctx, "Opportunity")
	if err != nil {
		return false, eris.Wrap(err, "sf: describe opportunity")
	}
	for _, f := range desc.Fields {
		if f.Name == field {
			return f.Updateable, nil
		}
	}
	return false, nil
}

// BulkUpdateOpportunities splits updates into batches of 200 (SF
// Collections API limit) and sends them via UpdateCollection. Used to
// write extracted next-step due dates back to the org.
func BulkUpdateOpportunities(ctx context.Context, c Client, updates []OpportunityUpdate) ([]CollectionResult, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	var allResults []CollectionResult

	for start := 0; start < len(updates); start += maxBatchSize {
		end := min(start+maxBatchSize, len(updates))
		batch := updates[start:end]

		records := make([]CollectionRecord, len(batch))
		for i, u := range batch {
			records[i] = CollectionRecord(u)
		}

		results, err := c.UpdateCollection(ctx, "Opportunity", records)
		if err != nil {
			return allResults, eris.Wrapf(err, "sf: bulk update opportunities batch %d", start/maxBatchSize)
		}
		allResults = append(allResults, results...)
	}

	return allResults, nil
}
