package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cmt-fetcher/config"
	"cmt-fetcher/daterange"
	"cmt-fetcher/db"
	"cmt-fetcher/export"
	"cmt-fetcher/fetcher"
	"cmt-fetcher/logging"
	"cmt-fetcher/metrics"
	"cmt-fetcher/models"
	"cmt-fetcher/query"
	"cmt-fetcher/scraper"
	"cmt-fetcher/sheets"
	"cmt-fetcher/storage"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	exitOK = iota
	exitFailure
	exitSinkFailure
)

const dateLayout = "2006-01-02"

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	opts, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}

	cfg, loaded, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	cfg.ApplyEnv(os.Getenv)
	opts.apply(cfg)

	logging.Setup(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logger := logging.NewLogger("main")

	if !loaded {
		logger.Info().Str("path", opts.configPath).Msg("Config file not found, using defaults")
	}
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return exitFailure
	}

	start, end, err := opts.dates()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid date range")
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.New(),
		stdout:    stdout,
		uploadKey: opts.uploadKey,
	}
	return app.retrieve(ctx, cfg.Params(start, end))
}

type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	stdout    io.Writer
	uploadKey string
}

// retrieve runs one catalog retrieval and hands the result to every
// configured sink
func (a *app) retrieve(ctx context.Context, params query.Params) int {
	defer a.pushMetrics()

	queryURL := query.BuildURLWithBase(a.cfg.Catalog.BaseURL, params)
	label := daterange.Label(params.Start, params.End)

	var (
		database *db.DB
		record   *db.Run
	)
	if a.cfg.Database.DSN != "" {
		var err error
		database, err = db.Open(ctx, a.cfg.Database.Driver, a.cfg.Database.DSN)
		if err != nil {
			a.logger.Error().Err(err).Msg("Failed to open database")
			return exitFailure
		}
		defer database.Close()

		record, err = database.CreateRun(ctx, queryURL, params.Start, params.End)
		if err != nil {
			a.logger.Error().Err(err).Msg("Failed to create run")
			return exitFailure
		}
		if err := database.UpdateRunStatus(ctx, record.ID, db.StatusInProgress); err != nil {
			a.logger.Warn().Err(err).Int64("run_id", record.ID).Msg("Failed to update run status")
		}
	}

	f, closeFetcher, err := a.newFetcher()
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to create fetcher")
		a.failRun(database, record, err)
		return exitFailure
	}
	defer closeFetcher()

	s := scraper.New(f, scraper.Options{
		BaseURL:  a.cfg.Catalog.BaseURL,
		MaxPages: a.cfg.Catalog.MaxPages,
		Metrics:  a.metrics,
		OnPage: func(page int, url string) {
			a.logger.Debug().Int("page", page).Str("url", url).Msg("Fetching page")
		},
	})

	a.logger.Info().
		Str("range", label).
		Str("fetcher", a.cfg.Catalog.Fetcher).
		Int("window_days", a.cfg.Catalog.WindowDays).
		Int("windows", daterange.CountWindows(params.Start, params.End, a.cfg.Catalog.WindowDays)).
		Msg("Starting retrieval")

	result, err := s.DownloadWindows(ctx, params, a.cfg.Catalog.WindowDays)
	if err != nil {
		a.logger.Error().Err(err).Msg("Retrieval failed")
		a.failRun(database, record, err)
		return exitFailure
	}

	a.logger.Info().
		Int("pages", result.Pages).
		Int("solutions", len(result.Solutions)).
		Int("header_lines", len(result.Header)).
		Msg("Retrieval finished")

	code := exitOK
	sinkFailed := func(msg string, err error) {
		a.logger.Warn().Err(err).Msg(msg)
		code = exitSinkFailure
	}

	if database != nil {
		if err := database.SaveResult(ctx, record.ID, result); err != nil {
			sinkFailed("Failed to save result to database", err)
			a.failRun(database, record, err)
			database = nil
		} else if err := database.UpdateRunStatus(ctx, record.ID, db.StatusDone); err != nil {
			sinkFailed("Failed to update run status", err)
		}
	}

	path, cleanup, err := a.writeOutput(result)
	if err != nil {
		sinkFailed("Failed to write output", err)
	}
	defer cleanup()

	if a.cfg.Storage.Endpoint != "" && path != "" {
		objectURL, err := a.upload(ctx, path, label)
		if err != nil {
			sinkFailed("Failed to upload export", err)
		} else if database != nil {
			if err := database.UpdateRunObjectURL(ctx, record.ID, objectURL); err != nil {
				sinkFailed("Failed to record object URL", err)
			}
		}
	}

	if a.cfg.Sheets.Spreadsheet != "" {
		sheetName, err := a.writeSheet(ctx, label, result, queryURL)
		if err != nil {
			sinkFailed("Failed to write to Google Sheets", err)
		} else if database != nil {
			if err := database.UpdateRunSheetName(ctx, record.ID, sheetName); err != nil {
				sinkFailed("Failed to record sheet name", err)
			}
		}
	}

	return code
}

// newFetcher builds the configured backend and its release function
func (a *app) newFetcher() (fetcher.Fetcher, func(), error) {
	switch a.cfg.Catalog.Fetcher {
	case config.FetcherBrowser:
		rf, err := fetcher.NewRodFetcher(fetcher.RodConfig{
			Bin:         a.cfg.Browser.Bin,
			UserDataDir: a.cfg.Browser.UserDataDir,
		})
		if err != nil {
			return nil, nil, err
		}
		return rf, func() {
			if err := rf.Close(); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to close browser")
			}
		}, nil
	default:
		return fetcher.NewCollyFetcher(fetcher.CollyConfig{
			UserAgent: a.cfg.Catalog.UserAgent,
			Timeout:   a.cfg.Catalog.Timeout,
		}), func() {}, nil
	}
}

// writeOutput writes the export file, or the table to stdout when no path
// is configured. A temporary file is written when an upload needs one.
// The returned path is empty when nothing was written to disk.
func (a *app) writeOutput(result *models.Result) (string, func(), error) {
	noop := func() {}
	format := a.cfg.Output.Format

	if a.cfg.Output.Path != "" {
		if err := export.WriteFile(a.cfg.Output.Path, format, result); err != nil {
			return "", noop, err
		}
		a.logger.Info().Str("path", a.cfg.Output.Path).Str("format", format).Msg("Wrote output file")
		return a.cfg.Output.Path, noop, nil
	}

	if err := export.Write(a.stdout, format, result); err != nil {
		return "", noop, err
	}
	if a.cfg.Storage.Endpoint == "" {
		return "", noop, nil
	}

	ext := ".txt"
	if format == config.FormatCSV {
		ext = ".csv"
	}
	tmp, err := os.CreateTemp("", "cmt-*"+ext)
	if err != nil {
		return "", noop, fmt.Errorf("failed to create temporary export: %w", err)
	}
	tmp.Close()

	cleanup := func() { os.Remove(tmp.Name()) }
	if err := export.WriteFile(tmp.Name(), format, result); err != nil {
		cleanup()
		return "", noop, err
	}
	return tmp.Name(), cleanup, nil
}

func (a *app) upload(ctx context.Context, path, label string) (string, error) {
	store, err := storage.New(ctx, storage.Config{
		Endpoint:  a.cfg.Storage.Endpoint,
		Region:    a.cfg.Storage.Region,
		Bucket:    a.cfg.Storage.Bucket,
		AccessKey: a.cfg.Storage.AccessKey,
		SecretKey: a.cfg.Storage.SecretKey,
		UseSSL:    a.cfg.Storage.UseSSL,
	})
	if err != nil {
		return "", err
	}

	key := a.uploadKey
	if key == "" {
		key = storage.ObjectKey(label, path)
	}

	objectURL, err := store.Upload(ctx, path, key)
	if err != nil {
		return "", err
	}
	a.logger.Info().Str("url", objectURL).Str("file", filepath.Base(path)).Msg("Uploaded export")
	return objectURL, nil
}

func (a *app) writeSheet(ctx context.Context, label string, result *models.Result, queryURL string) (string, error) {
	spreadsheetID := sheets.ExtractSpreadsheetID(a.cfg.Sheets.Spreadsheet)
	if spreadsheetID == "" {
		return "", fmt.Errorf("could not extract spreadsheet ID from %q", a.cfg.Sheets.Spreadsheet)
	}

	writer, err := sheets.NewWriter(ctx, spreadsheetID, a.cfg.Sheets.Credentials)
	if err != nil {
		return "", err
	}

	sheetName := fmt.Sprintf("%s_%s", label, time.Now().Format("150405"))
	name, _, err := writer.CreateSheetAndWriteResult(ctx, sheetName, result, queryURL)
	return name, err
}

// failRun marks the run failed; a nil database is a no-op
func (a *app) failRun(database *db.DB, record *db.Run, cause error) {
	if database == nil || record == nil {
		return
	}
	// the retrieval context may already be canceled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := database.MarkRunFailed(ctx, record.ID, cause.Error()); err != nil {
		a.logger.Warn().Err(err).Int64("run_id", record.ID).Msg("Failed to mark run failed")
	}
}

func (a *app) pushMetrics() {
	if a.cfg.Metrics.Pushgateway == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.metrics.Push(ctx, a.cfg.Metrics.Pushgateway, a.cfg.Metrics.Job); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to push metrics")
	}
}
