package syncer

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/revops-dashboard/internal/model"
	"github.com/sells-group/revops-dashboard/pkg/salesforce"
)

// defaultPipelineID tags deals mirrored from the org's single
// opportunity pipeline.
const defaultPipelineID = "salesforce"

// buildStageEntered folds stage history rows into per-deal maps of the
// first time each stage was entered. History arrives ordered by
// CreatedDate, so the first row per stage wins.
func buildStageEntered(history []salesforce.StageHistoryEntry) map[string]map[string]time.Time {
	entered := make(map[string]map[string]time.Time)
	for _, h := range history {
		at, err := salesforce.ParseDateTime(h.CreatedDate)
		if err != nil || at == nil {
			zap.L().Warn("skipping unparseable stage history timestamp",
				zap.String("deal_id", h.OpportunityID),
				zap.String("stage", h.StageName),
				zap.String("value", h.CreatedDate),
			)
			continue
		}
		m, ok := entered[h.OpportunityID]
		if !ok {
			m = make(map[string]time.Time)
			entered[h.OpportunityID] = m
		}
		if _, seen := m[h.StageName]; !seen {
			m[h.StageName] = *at
		}
	}
	return entered
}

// mapOpportunities converts Salesforce records to deal snapshots.
// Unparseable optional dates drop the field rather than the deal.
func mapOpportunities(opps []salesforce.Opportunity, entered map[string]map[string]time.Time, syncedAt time.Time) []model.DealSnapshot {
	deals := make([]model.DealSnapshot, 0, len(opps))
	for _, o := range opps {
		deals = append(deals, mapOpportunity(o, entered[o.ID], syncedAt))
	}
	return deals
}

func mapOpportunity(o salesforce.Opportunity, entered map[string]time.Time, syncedAt time.Time) model.DealSnapshot {
	d := model.DealSnapshot{
		ID:             o.ID,
		Name:           o.Name,
		Amount:         o.Amount,
		StageID:        o.StageName,
		PipelineID:     defaultPipelineID,
		NextStep:       o.NextStep,
		OwnerID:        o.OwnerID,
		Product:        o.Product,
		LeadSource:     o.LeadSource,
		Collaborator:   o.Collaborator,
		StageEnteredAt: entered,
		SyncedAt:       syncedAt,
	}

	d.CloseDate = parseDateField(o.ID, "close_date", o.CloseDate)
	if created := parseDateTimeField(o.ID, "created_date", o.CreatedDate); created != nil {
		d.CreatedAt = *created
	}
	if o.LastActivityDate != nil {
		d.LastActivityAt = parseDateField(o.ID, "last_activity_date", *o.LastActivityDate)
	}
	if o.NextActivityDate != nil {
		d.NextActivityAt = parseDateField(o.ID, "next_activity_date", *o.NextActivityDate)
	}

	return d
}

// mapUsers converts Salesforce users to owners.
func mapUsers(users []salesforce.User, syncedAt time.Time) []model.Owner {
	owners := make([]model.Owner, 0, len(users))
	for _, u := range users {
		o := model.Owner{
			ID:       u.ID,
			Name:     u.Name,
			Email:    u.Email,
			IsActive: u.IsActive,
			SyncedAt: syncedAt,
		}
		if u.Quota != nil {
			o.Quota = *u.Quota
		}
		owners = append(owners, o)
	}
	return owners
}

// buildPipelines wraps stage metadata in the single mirrored pipeline.
func buildPipelines(stages []salesforce.OpportunityStage) []model.Pipeline {
	if len(stages) == 0 {
		return nil
	}
	metas := make([]model.StageMeta, 0, len(stages))
	for _, s := range stages {
		isClosed := s.IsClosed
		metas = append(metas, model.StageMeta{
			ID:       s.APIName,
			Label:    s.MasterLabel,
			IsClosed: &isClosed,
		})
	}
	return []model.Pipeline{
		{ID: defaultPipelineID, Label: "Sales Pipeline", Stages: metas},
	}
}

func parseDateField(dealID, field, value string) *time.Time {
	t, err := salesforce.ParseDate(value)
	if err != nil {
		zap.L().Warn("skipping unparseable date field",
			zap.String("deal_id", dealID),
			zap.String("field", field),
			zap.String("value", value),
		)
		return nil
	}
	return t
}

func parseDateTimeField(dealID, field, value string) *time.Time {
	t, err := salesforce.ParseDateTime(value)
	if err != nil {
		zap.L().Warn("skipping unparseable datetime field",
			zap.String("deal_id", dealID),
			zap.String("field", field),
			zap.String("value", value),
		)
		return nil
	}
	return t
}
