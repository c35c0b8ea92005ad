package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvloznov/finance-capture/internal/infra"
	infraBQ "github.com/dvloznov/finance-capture/internal/infra/bigquery"
	"github.com/dvloznov/finance-capture/internal/infra/sqlite"
	"github.com/dvloznov/finance-capture/internal/media"
)

type uploadCmd struct {
	File   string `arg:"" type:"existingfile" help:"Local image or audio file."`
	Bucket string `env:"GCS_BUCKET" help:"${env} - Destination bucket."`
	Object string `help:"Object name. Defaults to uploads/<file name>."`
}

func (c *uploadCmd) Run(rt *runtime) error {
	if c.Bucket == "" {
		return errors.New("a bucket is required: pass --bucket or set GCS_BUCKET")
	}
	object := c.Object
	if object == "" {
		object = "uploads/" + filepath.Base(c.File)
	}

	store := media.NewStore()
	defer store.Close()

	if err := store.UploadFile(rt.ctx, c.Bucket, object, c.File); err != nil {
		return fmt.Errorf("upload %s: %w", c.File, err)
	}

	rt.log.Info().Str("bucket", c.Bucket).Str("object", object).Msg("File uploaded")
	// The URI can be passed straight to the image and audio commands.
	fmt.Printf("gs://%s/%s\n", c.Bucket, object)
	return nil
}

type migrateCmd struct{}

func (c *migrateCmd) Run(rt *runtime) error {
	switch rt.cfg.DataBackend {
	case infra.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(rt.cfg.SQLiteDBPath), 0o755); err != nil {
			return err
		}
		if err := sqlite.RunMigrations(rt.cfg.SQLiteDBPath); err != nil {
			return err
		}
		version, dirty, err := sqlite.MigrationVersion(rt.cfg.SQLiteDBPath)
		if err != nil {
			return err
		}
		fmt.Printf("sqlite %s at schema version %d (dirty: %t)\n", rt.cfg.SQLiteDBPath, version, dirty)
		return nil

	case infra.BackendBigQuery:
		repo, err := infraBQ.NewRepository(rt.ctx, rt.cfg.BigQueryProject, rt.cfg.BigQueryDataset)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.EnsureTables(rt.ctx); err != nil {
			return err
		}
		fmt.Printf("bigquery %s.%s tables are in place\n", rt.cfg.BigQueryProject, rt.cfg.BigQueryDataset)
		return nil

	default:
		fmt.Printf("the %s backend has no schema to migrate\n", rt.cfg.DataBackend)
		return nil
	}
}
