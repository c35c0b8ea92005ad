package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/infra"
	"github.com/dvloznov/finance-capture/internal/logger"
	"github.com/dvloznov/finance-capture/internal/notionsync"
	"github.com/dvloznov/finance-capture/internal/store"
)

type syncNotionCmd struct {
	Token     string `env:"NOTION_TOKEN" help:"${env} - Notion integration token."`
	Database  string `env:"NOTION_DATABASE_ID" help:"${env} - Target Notion database."`
	From      string `help:"Earliest transaction date, YYYY-MM-DD."`
	To        string `help:"Latest transaction date, YYYY-MM-DD."`
	Household string `help:"Only sync this household."`
	DryRun    bool   `help:"Log what would be written without touching Notion."`
}

func (c *syncNotionCmd) filter() (store.TransactionFilter, error) {
	f := store.TransactionFilter{HouseholdID: c.Household, Limit: store.MaxListLimit}
	var err error
	if c.From != "" {
		if f.From, err = domain.ParseDate(c.From); err != nil {
			return f, fmt.Errorf("--from: %w", err)
		}
	}
	if c.To != "" {
		if f.To, err = domain.ParseDate(c.To); err != nil {
			return f, fmt.Errorf("--to: %w", err)
		}
		if len(c.To) == len(time.DateOnly) {
			// Include the whole last day.
			f.To = f.To.Add(24*time.Hour - time.Nanosecond)
		}
	}
	return f, nil
}

func (c *syncNotionCmd) Run(rt *runtime) error {
	if c.Token == "" || c.Database == "" {
		return errors.New("a token and database are required: set NOTION_TOKEN and NOTION_DATABASE_ID")
	}
	filter, err := c.filter()
	if err != nil {
		return err
	}

	// Only the repository is needed, so no model credentials are checked.
	repo, err := infra.OpenRepository(rt.ctx, rt.cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := logger.WithContext(rt.ctx, rt.log)
	stats, err := notionsync.SyncTransactions(ctx, repo, notionsync.NewNotionClient(c.Token), c.Database, filter, c.DryRun)
	if err != nil {
		return err
	}

	fmt.Printf("created %d, updated %d, failed %d\n", stats.Created, stats.Updated, stats.Failed)
	if stats.Failed > 0 {
		return fmt.Errorf("%d transactions failed to sync", stats.Failed)
	}
	return nil
}
