package salesforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Opportunity represents a Salesforce Opportunity record as selected by
// the dashboard sync. Custom fields carry the org's hygiene and
// next-step extensions.
type Opportunity struct {
	ID               string   `json:"Id" salesforce:"Id"`
	Name             string   `json:"Name" salesforce:"Name"`
	Amount           *float64 `json:"Amount" salesforce:"Amount"`
	StageName        string   `json:"StageName" salesforce:"StageName"`
	CloseDate        string   `json:"CloseDate" salesforce:"CloseDate"`
	CreatedDate      string   `json:"CreatedDate" salesforce:"CreatedDate"`
	LastActivityDate *string  `json:"LastActivityDate" salesforce:"LastActivityDate"`
	NextStep         string   `json:"NextStep" salesforce:"NextStep"`
	OwnerID          string   `json:"OwnerId" salesforce:"OwnerId"`
	LeadSource       string   `json:"LeadSource" salesforce:"LeadSource"`
	Product          string   `json:"Product__c" salesforce:"Product__c"`
	Collaborator     string   `json:"Collaborator__c" salesforce:"Collaborator__c"`
	NextActivityDate *string  `json:"Next_Activity_Date__c" salesforce:"Next_Activity_Date__c"`
}

// opportunityFields are the SOQL fields selected for Opportunity queries.
var opportunityFields = []string{
	"Id", "Name", "Amount", "StageName", "CloseDate", "CreatedDate",
	"LastActivityDate", "NextStep", "OwnerId", "LeadSource",
	"Product__c", "Collaborator__c", "Next_Activity_Date__c",
}

// FetchOpenOpportunities queries all open (non-closed) opportunities.
func FetchOpenOpportunities(ctx context.Context, c Client) ([]Opportunity, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Opportunity WHERE IsClosed = false",
		strings.Join(opportunityFields, ", "),
	)

	var opps []Opportunity
	if err := c.Query(ctx, soql, &opps); err != nil {
		return nil, eris.Wrap(err, "sf: fetch open opportunities")
	}
	return opps, nil
}

// FetchClosedOpportunitiesSince queries opportunities closed on or after
// the given date, for quarter-to-date closed-won totals.
func FetchClosedOpportunitiesSince(ctx context.Context, c Client, since time.Time) ([]Opportunity, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Opportunity WHERE IsClosed = true AND CloseDate >= %s",
		strings.Join(opportunityFields, ", "),
		since.Format("2006-01-02"),
	)

	var opps []Opportunity
	if err := c.Query(ctx, soql, &opps); err != nil {
		return nil, eris.Wrap(err, "sf: fetch closed opportunities")
	}
	return opps, nil
}

// StageHistoryEntry is one row of OpportunityHistory: the moment a deal
// entered a stage.
type StageHistoryEntry struct {
	OpportunityID string `json:"OpportunityId" salesforce:"OpportunityId"`
	StageName     string `json:"StageName" salesforce:"StageName"`
	CreatedDate   string `json:"CreatedDate" salesforce:"CreatedDate"`
}

// FetchStageHistory queries stage transition history for the given
// opportunity ids, batched to stay under SOQL length limits.
func FetchStageHistory(ctx context.Context, c Client, oppIDs []string) ([]StageHistoryEntry, error) {
	const batchSize = 200

	var all []StageHistoryEntry
	for start := 0; start < len(oppIDs); start += batchSize {
		end := min(start+batchSize, len(oppIDs))
		quoted := make([]string, 0, end-start)
		for _, id := range oppIDs[start:end] {
			quoted = append(quoted, "'"+escapeSoql(id)+"'")
		}

		soql := fmt.Sprintf(
			"SELECT OpportunityId, StageName, CreatedDate FROM OpportunityHistory WHERE OpportunityId IN (%s) ORDER BY CreatedDate",
			strings.Join(quoted, ", "),
		)

		var entries []StageHistoryEntry
		if err := c.Query(ctx, soql, &entries); err != nil {
			return nil, eris.Wrap(err, "sf: fetch stage history")
		}
		all = append(all, entries...)
	}
	return all, nil
}

// User represents a Salesforce User record for active deal owners.
type User struct {
	ID       string   `json:"Id" salesforce:"Id"`
	Name     string   `json:"Name" salesforce:"Name"`
	Email    string   `json:"Email" salesforce:"Email"`
	IsActive bool     `json:"IsActive" salesforce:"IsActive"`
	Quota    *float64 `json:"Quota__c" salesforce:"Quota__c"`
}

// FetchActiveUsers queries active users holding a sales role.
func FetchActiveUsers(ctx context.Context, c Client) ([]User, error) {
	soql := "SELECT Id, Name, Email, IsActive, Quota__c FROM User WHERE IsActive = true"

	var users []User
	if err := c.Query(ctx, soql, &users); err != nil {
		return nil, eris.Wrap(err, "sf: fetch active users")
	}
	return users, nil
}

// OpportunityStage is one row of the OpportunityStage setup object.
type OpportunityStage struct {
	APIName     string `json:"ApiName" salesforce:"ApiName"`
	MasterLabel string `json:"MasterLabel" salesforce:"MasterLabel"`
	IsClosed    bool   `json:"IsClosed" salesforce:"IsClosed"`
	IsWon       bool   `json:"IsWon" salesforce:"IsWon"`
	SortOrder   int    `json:"SortOrder" salesforce:"SortOrder"`
}

// FetchOpportunityStages queries stage metadata for pipeline resolution.
func FetchOpportunityStages(ctx context.Context, c Client) ([]OpportunityStage, error) {
	soql := "SELECT ApiName, MasterLabel, IsClosed, IsWon, SortOrder FROM OpportunityStage ORDER BY SortOrder"

	var stages []OpportunityStage
	if err := c.Query(ctx, soql, &stages); err != nil {
		return nil, eris.Wrap(err, "sf: fetch opportunity stages")
	}
	return stages, nil
}

// ParseDate parses a Salesforce date-only value (2006-01-02). Empty
// input returns nil.
func ParseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, eris.Wrapf(err, "sf: parse date %q", s)
	}
	t = t.UTC()
	return &t, nil
}

// ParseDateTime parses a Salesforce datetime value. SF emits both
// RFC3339 and its legacy +0000 offset form depending on API path.
func ParseDateTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000-0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, eris.Errorf("sf: parse datetime %q", s)
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
