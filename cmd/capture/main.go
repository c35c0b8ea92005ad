package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/dvloznov/finance-capture/internal/app"
	"github.com/dvloznov/finance-capture/internal/config"
	"github.com/dvloznov/finance-capture/internal/logger"
	"github.com/prometheus/common/version"
	"github.com/rs/zerolog"
)

const AppName = "finance-capture"
const AppDesc = "Capture household transactions from free text, receipt photos and voice notes."

var cli struct {
	LogLevel string `env:"LOG_LEVEL" help:"${env} - Log level" default:"warn" enum:"trace,debug,info,warn,error"`
	Backend  string `env:"DATA_BACKEND" help:"${env} - Data backend used by --save, migrate and sync-notion" default:"memory" enum:"memory,sqlite,bigquery"`
	Provider string `env:"LLM_PROVIDER" help:"${env} - Model provider" default:"openai" enum:"openai,gemini"`

	Text       textCmd       `cmd:"" help:"Extract a transaction from free text."`
	Image      imageCmd      `cmd:"" help:"Extract a transaction from a receipt image."`
	Audio      audioCmd      `cmd:"" help:"Extract a transaction from a voice note."`
	Batch      batchCmd      `cmd:"" help:"Extract one transaction per input line."`
	Upload     uploadCmd     `cmd:"" help:"Upload a local file to Cloud Storage."`
	Migrate    migrateCmd    `cmd:"" help:"Create or upgrade the storage schema."`
	SyncNotion syncNotionCmd `cmd:"" name:"sync-notion" help:"Mirror stored transactions into a Notion database."`

	Version kong.VersionFlag `help:"Print version information and exit."`
}

// runtime is bound into every command's Run method.
type runtime struct {
	ctx context.Context
	cfg *config.Config
	log zerolog.Logger

	app *app.App
}

// services builds the extractor, repository and capture service on first use.
// upload, migrate and sync-notion never call it, so they need no model credentials.
func (rt *runtime) services() (*app.App, error) {
	if rt.app != nil {
		return rt.app, nil
	}
	a, err := app.New(rt.ctx, rt.cfg, rt.log)
	if err != nil {
		return nil, err
	}
	rt.app = a
	return a, nil
}

func (rt *runtime) close() {
	if rt.app != nil {
		if err := rt.app.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("Failed to release resources")
		}
	}
}

func main() {
	cfg := config.Load()

	kctx := kong.Parse(&cli,
		kong.Name(AppName),
		kong.Description(AppDesc),
		kong.UsageOnError(),
		kong.Vars{"version": version.Print(AppName)},
	)

	cfg.LogLevel = cli.LogLevel
	cfg.DataBackend = cli.Backend
	cfg.LLMProvider = cli.Provider

	log, err := logger.NewWithLevel(cfg.LogLevel)
	if err != nil {
		kctx.FatalIfErrorf(err)
	}
	log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := &runtime{ctx: ctx, cfg: cfg, log: log}
	err = kctx.Run(rt)
	rt.close()
	kctx.FatalIfErrorf(err)
}
