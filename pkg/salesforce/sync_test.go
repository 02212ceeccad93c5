package salesforce

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-pipeline/internal/model"
)

type fakeClient struct {
	queryResult []Account
	queryErr    error
	soql        string

	insertedObject string
	insertedFields map[string]any
	insertID       string

	updatedID     string
	updatedFields map[string]any
}

func (f *fakeClient) Query(_ context.Context, soql string, out any) error {
	f.soql = soql
	if f.queryErr != nil {
		return f.queryErr
	}
	result, ok := out.(*struct{ Records []Account })
	if ok {
		result.Records = f.queryResult
	}
	return nil
}

func (f *fakeClient) InsertOne(_ context.Context, sObjectName string, record map[string]any) (string, error) {
	f.insertedObject = sObjectName
	f.insertedFields = record
	if f.insertID == "" {
		f.insertID = "001NEW"
	}
	return f.insertID, nil
}

func (f *fakeClient) UpdateOne(_ context.Context, sObjectName string, id string, fields map[string]any) error {
	f.insertedObject = sObjectName
	f.updatedID = id
	f.updatedFields = fields
	return nil
}

func companyAttrs() map[string]any {
	return map[string]any{
		"name":           "Acme Robotics",
		"domain":         "acme.example",
		"industry":       "enterprise software",
		"employee_count": 800,
		"total_funding":  25_000_000.0,
	}
}

func TestSyncAccountCreates(t *testing.T) {
	client := &fakeClient{}
	syncer := NewAccountSyncer(client)

	scores := &model.ScoreSet{Overall: 84, Fit: 85, Intent: 75, Timing: 100, BANTQualified: true}
	err := syncer.SyncAccount(context.Background(), 42, companyAttrs(), scores, "push")
	require.NoError(t, err)

	assert.Equal(t, "Account", client.insertedObject)
	assert.Equal(t, "Acme Robotics", client.insertedFields["Name"])
	assert.Equal(t, "acme.example", client.insertedFields["Website"])
	assert.Equal(t, 800, client.insertedFields["NumberOfEmployees"])
	assert.Equal(t, 84.0, client.insertedFields["Lead_Score__c"])
	assert.Equal(t, true, client.insertedFields["BANT_Qualified__c"])
	assert.Equal(t, "Hot", client.insertedFields["Rating"])
}

func TestSyncAccountUpdatesExisting(t *testing.T) {
	client := &fakeClient{queryResult: []Account{{ID: "001EXIST", Name: "Acme"}}}
	syncer := NewAccountSyncer(client)

	err := syncer.SyncAccount(context.Background(), 42, companyAttrs(), &model.ScoreSet{Overall: 65}, "")
	require.NoError(t, err)

	assert.Equal(t, "001EXIST", client.updatedID)
	assert.Equal(t, "Warm", client.updatedFields["Rating"])
	assert.Empty(t, client.insertedFields)
	assert.True(t, strings.Contains(client.soql, "Website LIKE '%acme.example%'"))
}

func TestSyncAccountRequiresName(t *testing.T) {
	syncer := NewAccountSyncer(&fakeClient{})

	err := syncer.SyncAccount(context.Background(), 42, map[string]any{"domain": "acme.example"}, nil, "")
	require.Error(t, err)
}

func TestSyncAccountRejectsPullDirection(t *testing.T) {
	syncer := NewAccountSyncer(&fakeClient{})

	err := syncer.SyncAccount(context.Background(), 42, companyAttrs(), nil, "pull")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestRatingThresholds(t *testing.T) {
	assert.Equal(t, "Hot", rating(80))
	assert.Equal(t, "Warm", rating(60))
	assert.Equal(t, "Cold", rating(59.9))
}

func TestFindAccountByWebsiteEscapesQuotes(t *testing.T) {
	client := &fakeClient{}
	_, err := FindAccountByWebsite(context.Background(), client, "o'brien.example")
	require.NoError(t, err)
	assert.Contains(t, client.soql, `o\'brien.example`)
}

func TestFindAccountByWebsiteNoMatch(t *testing.T) {
	client := &fakeClient{}
	acct, err := FindAccountByWebsite(context.Background(), client, "nowhere.example")
	require.NoError(t, err)
	assert.Nil(t, acct)
}
