package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/store"
	"google.golang.org/api/iterator"
)

const transactionsTable = "transactions"

const transactionColumns = `
			transaction_id,
			household_id,
			user_id,
			type,
			transaction_date,
			transaction_ts,
			amount,
			currency,
			merchant,
			payee,
			method,
			category_name,
			category_id,
			notes,
			source,
			source_ref,
			confidence,
			language,
			created_ts`

// InsertTransaction streams one row into <dataset>.transactions.
func (r *Repository) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	inserter := r.client.DatasetInProject(r.projectID, r.datasetID).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, newTransactionRow(tx)); err != nil {
		return fmt.Errorf("InsertTransaction: inserting row: %w", err)
	}
	return nil
}

// GetTransaction loads one transaction by ID.
func (r *Repository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT%s
		FROM %s.%s
		WHERE transaction_id = @transaction_id
		LIMIT 1
	`, transactionColumns, r.datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: id},
	}

	rows, err := readTransactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("GetTransaction %s: %w", id, store.ErrNotFound)
	}
	return rows[0], nil
}

// ListTransactions returns matching transactions, newest first.
func (r *Repository) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]*domain.Transaction, error) {
	sql, params := listTransactionsQuery(r.datasetID, filter)
	q := r.client.Query(sql)
	q.Parameters = params

	rows, err := readTransactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	return rows, nil
}

// listTransactionsQuery builds the parameterized SELECT for filter.
func listTransactionsQuery(datasetID string, filter store.TransactionFilter) (string, []bigquery.QueryParameter) {
	var (
		conds  []string
		params []bigquery.QueryParameter
	)
	if filter.HouseholdID != "" {
		conds = append(conds, "household_id = @household_id")
		params = append(params, bigquery.QueryParameter{Name: "household_id", Value: filter.HouseholdID})
	}
	if filter.Type != "" {
		conds = append(conds, "type = @type")
		params = append(params, bigquery.QueryParameter{Name: "type", Value: string(filter.Type)})
	}
	if !filter.From.IsZero() {
		conds = append(conds, "transaction_ts >= @from_ts")
		params = append(params, bigquery.QueryParameter{Name: "from_ts", Value: filter.From.UTC()})
	}
	if !filter.To.IsZero() {
		conds = append(conds, "transaction_ts <= @to_ts")
		params = append(params, bigquery.QueryParameter{Name: "to_ts", Value: filter.To.UTC()})
	}
	params = append(params, bigquery.QueryParameter{Name: "limit", Value: filter.EffectiveLimit()})

	where := ""
	if len(conds) > 0 {
		where = "\n\t\tWHERE " + strings.Join(conds, "\n\t\t  AND ")
	}

	return fmt.Sprintf(`
		SELECT%s
		FROM %s.%s%s
		ORDER BY transaction_ts DESC, created_ts DESC
		LIMIT @limit
	`, transactionColumns, datasetID, transactionsTable, where), params
}

func readTransactions(ctx context.Context, q *bigquery.Query) ([]*domain.Transaction, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	result := make([]*domain.Transaction, 0)
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		tx, err := row.Transaction()
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, nil
}
