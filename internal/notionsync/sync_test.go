package notionsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/infra/memory"
	"github.com/dvloznov/finance-capture/internal/store"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotion struct {
	pages     [][]notionapi.Page // one slice per query page
	created   []notionapi.Properties
	updated   map[string]notionapi.Properties
	createErr error
	queries   int
}

func (f *fakeNotion) CreatePage(_ context.Context, _ string, props notionapi.Properties) (*notionapi.Page, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, props)
	return &notionapi.Page{ID: notionapi.ObjectID("new-page")}, nil
}

func (f *fakeNotion) UpdatePage(_ context.Context, pageID string, props notionapi.Properties) (*notionapi.Page, error) {
	if f.updated == nil {
		f.updated = map[string]notionapi.Properties{}
	}
	f.updated[pageID] = props
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (f *fakeNotion) QueryDatabase(_ context.Context, _ string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	i := f.queries
	f.queries++
	if i >= len(f.pages) {
		return &notionapi.DatabaseQueryResponse{}, nil
	}
	return &notionapi.DatabaseQueryResponse{
		Results:    f.pages[i],
		HasMore:    i+1 < len(f.pages),
		NextCursor: notionapi.Cursor("next"),
	}, nil
}

func pageFor(pageID, txID string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(pageID),
		Properties: notionapi.Properties{
			PropTransactionID: &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: txID}},
			},
		},
	}
}

func seed(t *testing.T, ids ...string) *memory.Repository {
	t.Helper()
	repo := memory.NewRepository()
	for i, id := range ids {
		require.NoError(t, repo.InsertTransaction(context.Background(), &domain.Transaction{
			ID:          id,
			HouseholdID: "h1",
			Type:        domain.TypeExpense,
			Amount:      decimal.RequireFromString("12.50"),
			Currency:    "USD",
			Date:        time.Date(2024, 3, 10+i, 9, 0, 0, 0, time.UTC),
			Merchant:    "Shop " + id,
			CategoryID:  "groceries",
			Source:      domain.ModalityText,
		}))
	}
	return repo
}

func TestSyncTransactions_CreatesAndUpdates(t *testing.T) {
	repo := seed(t, "tx-1", "tx-2", "tx-3")
	notion := &fakeNotion{pages: [][]notionapi.Page{
		{pageFor("page-1", "tx-1")},
		{pageFor("page-orphan", "")},
	}}

	stats, err := SyncTransactions(context.Background(), repo, notion, "db", store.TransactionFilter{}, false)
	require.NoError(t, err)

	assert.Equal(t, Stats{Created: 2, Updated: 1}, stats)
	assert.Equal(t, 2, notion.queries)
	assert.Contains(t, notion.updated, "page-1")
	assert.Len(t, notion.created, 2)
}

func TestSyncTransactions_DryRunWritesNothing(t *testing.T) {
	repo := seed(t, "tx-1", "tx-2")
	notion := &fakeNotion{pages: [][]notionapi.Page{{pageFor("page-1", "tx-1")}}}

	stats, err := SyncTransactions(context.Background(), repo, notion, "db", store.TransactionFilter{}, true)
	require.NoError(t, err)

	assert.Equal(t, Stats{Created: 1, Updated: 1}, stats)
	assert.Empty(t, notion.created)
	assert.Empty(t, notion.updated)
}

func TestSyncTransactions_CountsFailures(t *testing.T) {
	repo := seed(t, "tx-1")
	notion := &fakeNotion{createErr: errors.New("rate limited")}

	stats, err := SyncTransactions(context.Background(), repo, notion, "db", store.TransactionFilter{}, false)
	require.NoError(t, err)
	assert.Equal(t, Stats{Failed: 1}, stats)
}

func TestTransactionToNotionProperties(t *testing.T) {
	tx := &domain.Transaction{
		ID:         "tx-1",
		Type:       domain.TypeIncome,
		Amount:     decimal.RequireFromString("1500.00"),
		Currency:   "BRL",
		Date:       time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC),
		Payee:      "ACME",
		Source:     domain.ModalityAudio,
		Confidence: 0.8,
	}

	props := TransactionToNotionProperties(tx)

	title := props[PropDescription].(notionapi.TitleProperty)
	assert.Equal(t, "ACME", title.Title[0].Text.Content)
	assert.Equal(t, 1500.0, props[PropAmount].(notionapi.NumberProperty).Number)
	assert.Equal(t, "BRL", props[PropCurrency].(notionapi.SelectProperty).Select.Name)
	assert.Equal(t, "income", props[PropType].(notionapi.SelectProperty).Select.Name)

	date := props[PropDate].(notionapi.DateProperty)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Time(*date.Date.Start))

	assert.NotContains(t, props, PropMethod)
	assert.NotContains(t, props, PropNotes)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "héllo", clip("héllo", 10))
	assert.Equal(t, "hé", clip("héllo", 2))
}
