package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// Account represents the slice of a Salesforce Account the pipeline reads
// and writes.
type Account struct {
	ID                string  `json:"Id"`
	Name              string  `json:"Name"`
	Website           string  `json:"Website"`
	Industry          string  `json:"Industry"`
	Description       string  `json:"Description"`
	NumberOfEmployees int     `json:"NumberOfEmployees"`
	AnnualRevenue     float64 `json:"AnnualRevenue"`
	Rating            string  `json:"Rating"`
}

// accountFields are the SOQL fields selected for Account queries.
var accountFields = []string{
	"Id", "Name", "Website", "Industry", "Description",
	"NumberOfEmployees", "AnnualRevenue", "Rating",
}

// Rating thresholds on the overall lead score.
const (
	ratingHotMin  = 80
	ratingWarmMin = 60
)

// FindAccountByWebsite queries for an Account matching the given website.
// Returns nil when no account matches.
func FindAccountByWebsite(ctx context.Context, c Client, website string) (*Account, error) {
	if website == "" {
		return nil, eris.New("sf: website is required")
	}
	soql := fmt.Sprintf(
		"SELECT %s FROM Account WHERE Website LIKE '%%%s%%' LIMIT 1",
		strings.Join(accountFields, ", "), soqlEscape(website),
	)

	var result struct {
		Records []Account
	}
	if err := c.Query(ctx, soql, &result); err != nil {
		return nil, eris.Wrap(err, "sf: find account by website")
	}
	if len(result.Records) == 0 {
		return nil, nil
	}
	return &result.Records[0], nil
}

// AccountSyncer pushes scored companies into Salesforce, matching on the
// company website and creating the Account when none exists.
type AccountSyncer struct {
	client Client
}

// NewAccountSyncer creates an AccountSyncer over the given client.
func NewAccountSyncer(client Client) *AccountSyncer {
	return &AccountSyncer{client: client}
}

// SyncAccount upserts one company's attributes and lead scores. Only the
// push direction is supported.
func (s *AccountSyncer) SyncAccount(ctx context.Context, companyID int64, attrs map[string]any, scores *model.ScoreSet, direction string) error {
	if direction != "" && direction != "push" {
		return eris.Errorf("sf: sync direction %q not supported", direction)
	}

	fields := accountPayload(attrs, scores)
	name, _ := fields["Name"].(string)
	if name == "" {
		return eris.New("sf: company name is required to sync")
	}

	website, _ := fields["Website"].(string)
	var existing *Account
	if website != "" {
		var err error
		existing, err = FindAccountByWebsite(ctx, s.client, website)
		if err != nil {
			return err
		}
	}

	if existing != nil {
		if err := s.client.UpdateOne(ctx, "Account", existing.ID, fields); err != nil {
			return eris.Wrapf(err, "sf: sync company %d", companyID)
		}
		zap.L().Info("sf: account updated",
			zap.Int64("company_id", companyID),
			zap.String("account_id", existing.ID),
		)
		return nil
	}

	id, err := s.client.InsertOne(ctx, "Account", fields)
	if err != nil {
		return eris.Wrapf(err, "sf: sync company %d", companyID)
	}
	zap.L().Info("sf: account created",
		zap.Int64("company_id", companyID),
		zap.String("account_id", id),
	)
	return nil
}

// accountPayload maps company attributes and scores to Account fields.
// Score fields land on custom fields; absent attributes are omitted.
func accountPayload(attrs map[string]any, scores *model.ScoreSet) map[string]any {
	fields := make(map[string]any)

	setString := func(field, attr string) {
		if v, ok := attrs[attr].(string); ok && v != "" {
			fields[field] = v
		}
	}
	setString("Name", "name")
	setString("Website", "domain")
	setString("Industry", "industry")
	setString("Description", "description")

	if v := numeric(attrs["employee_count"]); v > 0 {
		fields["NumberOfEmployees"] = int(v)
	}
	if v := numeric(attrs["total_funding"]); v > 0 {
		fields["Total_Funding__c"] = v
	}

	if scores != nil {
		fields["Lead_Score__c"] = scores.Overall
		fields["Fit_Score__c"] = scores.Fit
		fields["Intent_Score__c"] = scores.Intent
		fields["Timing_Score__c"] = scores.Timing
		fields["BANT_Qualified__c"] = scores.BANTQualified
		fields["CHAMP_Qualified__c"] = scores.CHAMPQualified
		fields["Rating"] = rating(scores.Overall)
	}
	return fields
}

func rating(overall float64) string {
	switch {
	case overall >= ratingHotMin:
		return "Hot"
	case overall >= ratingWarmMin:
		return "Warm"
	default:
		return "Cold"
	}
}

func numeric(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// soqlEscape escapes single quotes and backslashes in SOQL string literals.
func soqlEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}
