package bigquery

import (
	"errors"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestTransactionRow_RoundTrip(t *testing.T) {
	tx := &domain.Transaction{
		ID:           "tx-1",
		HouseholdID:  "home",
		Type:         domain.TypeExpense,
		Amount:       decimal.RequireFromString("51.99"),
		Currency:     "USD",
		Date:         time.Date(2024, 3, 15, 18, 30, 0, 0, time.UTC),
		Merchant:     "Amazon",
		CategoryName: "Shopping",
		CategoryID:   "shopping",
		Source:       domain.ModalityImage,
		SourceRef:    "gs://receipts/a.jpg",
		Confidence:   0.8,
		Language:     "en",
		CreatedAt:    time.Date(2024, 3, 15, 19, 0, 0, 0, time.UTC),
	}

	row := newTransactionRow(tx)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 15}, row.TransactionDate)
	assert.Equal(t, 0, row.Amount.Cmp(big.NewRat(5199, 100)))
	assert.True(t, row.Merchant.Valid)
	assert.False(t, row.Payee.Valid, "empty strings are stored as NULL")

	back, err := row.Transaction()
	require.NoError(t, err)
	assert.True(t, tx.Amount.Equal(back.Amount))
	back.Amount = tx.Amount
	assert.Equal(t, tx, back)
}

func TestTransactionRow_NilAmount(t *testing.T) {
	row := &TransactionRow{TransactionID: "x"}
	tx, err := row.Transaction()
	require.NoError(t, err)
	assert.True(t, tx.Amount.IsZero())
}

func TestListTransactionsQuery(t *testing.T) {
	sql, params := listTransactionsQuery("finance", store.TransactionFilter{})
	assert.Contains(t, sql, "FROM finance.transactions")
	assert.NotContains(t, sql, "WHERE")
	require.Len(t, params, 1)
	assert.Equal(t, bigquery.QueryParameter{Name: "limit", Value: store.DefaultListLimit}, params[0])

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	sql, params = listTransactionsQuery("finance", store.TransactionFilter{
		HouseholdID: "home",
		Type:        domain.TypeIncome,
		From:        from,
		To:          to,
		Limit:       5000,
	})
	assert.Contains(t, sql, "household_id = @household_id")
	assert.Contains(t, sql, "type = @type")
	assert.Contains(t, sql, "transaction_ts >= @from_ts")
	assert.Contains(t, sql, "transaction_ts <= @to_ts")
	assert.Equal(t, 3, strings.Count(sql, "AND"))
	assert.Contains(t, sql, "ORDER BY transaction_ts DESC")

	names := make(map[string]any)
	for _, p := range params {
		names[p.Name] = p.Value
	}
	assert.Equal(t, "home", names["household_id"])
	assert.Equal(t, "income", names["type"])
	assert.Equal(t, from, names["from_ts"])
	assert.Equal(t, to, names["to_ts"])
	assert.Equal(t, store.MaxListLimit, names["limit"])
}

func TestExtractionRunRow_RoundTrip(t *testing.T) {
	run := &domain.ExtractionRun{
		ID:           "run-1",
		Modality:     domain.ModalityAudio,
		Language:     "pt-BR",
		Provider:     "openai",
		Model:        "gpt-4o",
		Status:       domain.RunFailed,
		ErrorMessage: "Failed to extract data from audio: boom",
		StartedAt:    time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
		FinishedAt:   time.Date(2024, 3, 15, 10, 0, 2, 0, time.UTC),
	}

	row := newExtractionRunRow(run)
	assert.False(t, row.JobID.Valid)
	assert.Equal(t, "FAILED", row.Status)
	assert.Equal(t, run, row.ExtractionRun())
}

func TestIsAlreadyExists(t *testing.T) {
	assert.True(t, isAlreadyExists(&googleapi.Error{Code: http.StatusConflict}))
	assert.False(t, isAlreadyExists(&googleapi.Error{Code: http.StatusNotFound}))
	assert.False(t, isAlreadyExists(errors.New("boom")))
}
