package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/shopspring/decimal"
)

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	HouseholdID   string `bigquery:"household_id"`   // REQUIRED
	UserID        string `bigquery:"user_id"`        // NULLABLE

	Type string `bigquery:"type"` // REQUIRED: expense | income | investment

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED, partition column
	TransactionTS   time.Time  `bigquery:"transaction_ts"`   // REQUIRED

	Amount   *big.Rat `bigquery:"amount"`   // REQUIRED NUMERIC
	Currency string   `bigquery:"currency"` // REQUIRED STRING

	Merchant     bigquery.NullString `bigquery:"merchant"`
	Payee        bigquery.NullString `bigquery:"payee"`
	Method       bigquery.NullString `bigquery:"method"`
	CategoryName bigquery.NullString `bigquery:"category_name"`
	CategoryID   string              `bigquery:"category_id"` // REQUIRED
	Notes        bigquery.NullString `bigquery:"notes"`

	Source     string              `bigquery:"source"` // REQUIRED: text | image | audio
	SourceRef  bigquery.NullString `bigquery:"source_ref"`
	Confidence float64             `bigquery:"confidence"`
	Language   string              `bigquery:"language"`

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

// newTransactionRow converts a domain transaction into its BigQuery row.
func newTransactionRow(tx *domain.Transaction) *TransactionRow {
	date := tx.Date.UTC()
	return &TransactionRow{
		TransactionID:   tx.ID,
		HouseholdID:     tx.HouseholdID,
		UserID:          tx.UserID,
		Type:            string(tx.Type),
		TransactionDate: civil.DateOf(date),
		TransactionTS:   date,
		Amount:          tx.Amount.Rat(),
		Currency:        tx.Currency,
		Merchant:        nullString(tx.Merchant),
		Payee:           nullString(tx.Payee),
		Method:          nullString(tx.Method),
		CategoryName:    nullString(tx.CategoryName),
		CategoryID:      tx.CategoryID,
		Notes:           nullString(tx.Notes),
		Source:          string(tx.Source),
		SourceRef:       nullString(tx.SourceRef),
		Confidence:      tx.Confidence,
		Language:        tx.Language,
		CreatedTS:       tx.CreatedAt.UTC(),
	}
}

// Transaction converts the row back into a domain transaction.
func (r *TransactionRow) Transaction() (*domain.Transaction, error) {
	amount := decimal.Zero
	if r.Amount != nil {
		var err error
		// NUMERIC carries at most 9 fractional digits.
		amount, err = decimal.NewFromString(r.Amount.FloatString(9))
		if err != nil {
			return nil, fmt.Errorf("TransactionRow %s: amount: %w", r.TransactionID, err)
		}
	}

	return &domain.Transaction{
		ID:           r.TransactionID,
		HouseholdID:  r.HouseholdID,
		UserID:       r.UserID,
		Type:         domain.TransactionType(r.Type),
		Amount:       amount,
		Currency:     r.Currency,
		Date:         r.TransactionTS.UTC(),
		Merchant:     r.Merchant.StringVal,
		Payee:        r.Payee.StringVal,
		Method:       r.Method.StringVal,
		CategoryName: r.CategoryName.StringVal,
		CategoryID:   r.CategoryID,
		Notes:        r.Notes.StringVal,
		Source:       domain.Modality(r.Source),
		SourceRef:    r.SourceRef.StringVal,
		Confidence:   r.Confidence,
		Language:     r.Language,
		CreatedAt:    r.CreatedTS.UTC(),
	}, nil
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
