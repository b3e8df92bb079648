package main

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"cmt-fetcher/config"
	"cmt-fetcher/query"
)

// cliOptions holds parsed command line flags. Only flags given on the
// command line override the config file.
type cliOptions struct {
	configPath string
	start      string
	end        string
	uploadKey  string

	fs     *flag.FlagSet
	values map[string]interface{}
	ranges []rangeFlag
}

// rangeFlag binds a -<name>-min/-max flag pair to a query bound
type rangeFlag struct {
	name     string
	usage    string
	min, max *float64
	bound    func(*config.Config) *query.Range
}

func parseFlags(args []string) (*cliOptions, error) {
	fs := flag.NewFlagSet("cmt-fetcher", flag.ContinueOnError)
	opts := &cliOptions{fs: fs, values: make(map[string]interface{})}

	fs.StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.start, "start", "", "First day of the search, YYYY-MM-DD (required)")
	fs.StringVar(&opts.end, "end", "", "Last day of the search, YYYY-MM-DD (defaults to -start)")
	fs.StringVar(&opts.uploadKey, "upload-key", "", "Object key for the uploaded export (default: generated)")

	opts.values["window-days"] = fs.Int("window-days", 0, "Split the date range into windows of N days (0 = one query)")
	opts.values["max-pages"] = fs.Int("max-pages", 0, "Fail when a query needs more than N pages (0 = unlimited)")
	opts.values["fetcher"] = fs.String("fetcher", config.FetcherHTTP, "Fetcher backend: http or browser")
	opts.values["timeout"] = fs.Duration("timeout", 0, "Per-request timeout (0 = none)")
	opts.values["out"] = fs.String("out", "", "Output file (default: stdout)")
	opts.values["format"] = fs.String("format", config.FormatText, "Output format: text or csv")
	opts.values["db-driver"] = fs.String("db-driver", "postgres", "Database driver: postgres or sqlite")
	opts.values["db-dsn"] = fs.String("db-dsn", "", "Database DSN (or DATABASE_URL)")
	opts.values["spreadsheet"] = fs.String("spreadsheet", "", "Google Sheets URL or ID")
	opts.values["credentials"] = fs.String("credentials", "", "Service account JSON file (or GOOGLE_SHEETS_CREDENTIALS)")
	opts.values["pushgateway"] = fs.String("pushgateway", "", "Prometheus Pushgateway URL (or PUSHGATEWAY_URL)")
	opts.values["log-level"] = fs.String("log-level", "info", "Log level: debug, info, warn, error")
	opts.values["log-pretty"] = fs.Bool("log-pretty", false, "Human-readable log output")

	opts.ranges = []rangeFlag{
		{name: "mw", usage: "moment magnitude", bound: func(c *config.Config) *query.Range { return &c.Query.Mw }},
		{name: "ms", usage: "surface-wave magnitude", bound: func(c *config.Config) *query.Range { return &c.Query.Ms }},
		{name: "mb", usage: "body-wave magnitude", bound: func(c *config.Config) *query.Range { return &c.Query.Mb }},
		{name: "lat", usage: "latitude", bound: func(c *config.Config) *query.Range { return &c.Query.Lat }},
		{name: "lon", usage: "longitude", bound: func(c *config.Config) *query.Range { return &c.Query.Lon }},
		{name: "depth", usage: "depth in km", bound: func(c *config.Config) *query.Range { return &c.Query.Depth }},
	}
	defaultCfg := config.GetDefaultConfig()
	for i := range opts.ranges {
		r := &opts.ranges[i]
		def := r.bound(defaultCfg)
		r.min = fs.Float64(r.name+"-min", def.Min, "Lower "+r.usage+" bound")
		r.max = fs.Float64(r.name+"-max", def.Max, "Upper "+r.usage+" bound")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.start == "" {
		return nil, errors.New("-start is required")
	}
	return opts, nil
}

// dates parses -start and -end; -end defaults to -start
func (o *cliOptions) dates() (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, o.start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid -start: %w", err)
	}
	if o.end == "" {
		return start, start, nil
	}
	end, err := time.Parse(dateLayout, o.end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid -end: %w", err)
	}
	return start, end, nil
}

// apply copies explicitly set flags into cfg
func (o *cliOptions) apply(cfg *config.Config) {
	str := func(name string) string { return *o.values[name].(*string) }

	o.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "window-days":
			cfg.Catalog.WindowDays = *o.values[f.Name].(*int)
		case "max-pages":
			cfg.Catalog.MaxPages = *o.values[f.Name].(*int)
		case "fetcher":
			cfg.Catalog.Fetcher = str(f.Name)
		case "timeout":
			cfg.Catalog.Timeout = *o.values[f.Name].(*time.Duration)
		case "out":
			cfg.Output.Path = str(f.Name)
		case "format":
			cfg.Output.Format = str(f.Name)
		case "db-driver":
			cfg.Database.Driver = str(f.Name)
		case "db-dsn":
			cfg.Database.DSN = str(f.Name)
		case "spreadsheet":
			cfg.Sheets.Spreadsheet = str(f.Name)
		case "credentials":
			cfg.Sheets.Credentials = str(f.Name)
		case "pushgateway":
			cfg.Metrics.Pushgateway = str(f.Name)
		case "log-level":
			cfg.Log.Level = str(f.Name)
		case "log-pretty":
			cfg.Log.Pretty = *o.values[f.Name].(*bool)
		}
	})

	set := make(map[string]bool)
	o.fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for _, r := range o.ranges {
		b := r.bound(cfg)
		if set[r.name+"-min"] {
			b.Min = *r.min
		}
		if set[r.name+"-max"] {
			b.Max = *r.max
		}
	}
}
