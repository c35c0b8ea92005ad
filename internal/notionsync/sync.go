package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-capture/internal/logger"
	"github.com/dvloznov/finance-capture/internal/store"
	"github.com/jomei/notionapi"
)

// pageSize is the Notion query page size (the API maximum).
const pageSize = 100

// Stats counts what a sync did.
type Stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// SyncTransactions upserts every transaction matching filter into the Notion
// database. Pages are matched on the Transaction ID column, so running the sync
// twice does not duplicate rows. A page that fails to write is logged and
// counted; the sync carries on with the rest.
func SyncTransactions(ctx context.Context, repo store.Repository, notion NotionService, databaseID string, filter store.TransactionFilter, dryRun bool) (Stats, error) {
	log := logger.FromContext(ctx)
	var stats Stats

	transactions, err := repo.ListTransactions(ctx, filter)
	if err != nil {
		return stats, fmt.Errorf("SyncTransactions: list transactions: %w", err)
	}

	pages, err := queryAllNotionPages(ctx, notion, databaseID)
	if err != nil {
		return stats, fmt.Errorf("SyncTransactions: %w", err)
	}

	pageIDs := make(map[string]string, len(pages))
	for _, page := range pages {
		if txID := extractTransactionID(page); txID != "" {
			pageIDs[txID] = string(page.ID)
		}
	}

	log.Info().
		Int("transaction_count", len(transactions)).
		Int("notion_page_count", len(pages)).
		Bool("dry_run", dryRun).
		Msg("Starting transaction sync to Notion")

	for _, tx := range transactions {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		props := TransactionToNotionProperties(tx)
		pageID, exists := pageIDs[tx.ID]

		if dryRun {
			log.Info().Str("transaction_id", tx.ID).Bool("exists", exists).Msg("[DRY RUN] Would write Notion page")
			if exists {
				stats.Updated++
			} else {
				stats.Created++
			}
			continue
		}

		if exists {
			if _, err := notion.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("transaction_id", tx.ID).Str("page_id", pageID).Msg("Failed to update Notion page")
				stats.Failed++
				continue
			}
			stats.Updated++
			continue
		}

		page, err := notion.CreatePage(ctx, databaseID, props)
		if err != nil {
			log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Failed to create Notion page")
			stats.Failed++
			continue
		}
		pageIDs[tx.ID] = string(page.ID)
		stats.Created++
	}

	log.Info().
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("failed", stats.Failed).
		Msg("Transaction sync completed")

	return stats, nil
}

func queryAllNotionPages(ctx context.Context, notion NotionService, databaseID string) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: pageSize}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notion.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}
		all = append(all, resp.Results...)

		if !resp.HasMore {
			return all, nil
		}
		cursor = resp.NextCursor
	}
}
