// Package appctx builds the per-command App: configuration, the attribute
// store, the feature layer and the edit session.
package appctx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lherron/hlutool/internal/config"
	"github.com/lherron/hlutool/internal/db"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/gis"
	"github.com/lherron/hlutool/internal/metrics"
	"github.com/lherron/hlutool/internal/render"
	"github.com/lherron/hlutool/internal/store"
)

// App is what a command sees once bootstrapped. DB and Store are nil
// without NeedsDB, Layer is nil without NeedsLayer.
type App struct {
	Config  *config.Config
	DB      *db.DB
	Store   *store.Store
	Layer   *gis.FeatureLayer
	Session domain.Session

	Logger  *slog.Logger
	Metrics *metrics.Prometheus
}

// Close flushes metrics to the configured textfile, then closes the layer and
// the database. A second call is a no-op.
func (a *App) Close() error {
	var errs []error
	if a.Metrics != nil && a.Config != nil {
		errs = append(errs, a.Metrics.WriteTextfile(a.Config.MetricsTextfile))
		a.Metrics = nil
	}
	if a.Layer != nil {
		errs = append(errs, a.Layer.Close())
		a.Layer = nil
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
		a.DB = nil
		a.Store = nil
	}
	return errors.Join(errs...)
}

// Renderer returns a renderer for the configured output format
func (a *App) Renderer(w io.Writer) (*render.Renderer, error) {
	format, err := render.ParseFormat(a.Config.Output)
	if err != nil {
		return nil, err
	}
	return render.NewRenderer(w, format), nil
}

// Options selects which resources Bootstrap opens. NeedsLayer implies
// NeedsSession.
type Options struct {
	NeedsDB      bool
	NeedsSession bool
	NeedsLayer   bool
}

// DefaultOptions is for editing commands that touch both stores.
func DefaultOptions() Options {
	return Options{NeedsDB: true, NeedsSession: true, NeedsLayer: true}
}

// WithSession is for attribute-only edits.
func WithSession() Options {
	return Options{NeedsDB: true, NeedsSession: true}
}

// DBOnly is for read-only queries against the attribute store.
func DBOnly() Options {
	return Options{NeedsDB: true}
}

type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp adapts fn to cobra's RunE, bootstrapping before and closing after.
// A close error is reported only when fn succeeded.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		runErr := fn(app, cmd, args)
		if closeErr := app.Close(); closeErr != nil && runErr == nil {
			return closeErr
		}
		return runErr
	}
}

// Bootstrap loads configuration, applies persistent flags and opens what opts
// asks for. An unmigrated database is refused. The caller must Close the App.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, cfg)

	if _, err := render.ParseFormat(cfg.Output); err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.Level()})),
	}
	app.Metrics = metrics.NewPrometheus()

	if opts.NeedsDB {
		database, err := db.OpenDriver(cfg.DBDriver, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}

		if err := database.RequiresMigrationError(); err != nil {
			database.Close()
			return nil, err
		}

		app.DB = database
		app.Store = store.New(database)
	}

	if opts.NeedsSession || opts.NeedsLayer {
		session, err := cfg.Session()
		if err != nil {
			app.Close()
			return nil, err
		}
		// --as beats HLU_USER
		if as := flagValue(cmd, "as"); as != "" {
			session.UserID = as
		}
		app.Session = session
	}

	if opts.NeedsLayer {
		layer, err := gis.OpenFeatureLayer(cfg.GISPath, app.Session.GeometryType, gis.WithLayerLogger(app.Logger))
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("open feature layer: %w", err)
		}
		app.Layer = layer
	}

	return app, nil
}

// applyFlags overrides config values with any persistent flags that were set
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	for name, dst := range map[string]*string{
		"db":        &cfg.DBPath,
		"gis":       &cfg.GISPath,
		"as":        &cfg.UserID,
		"reason":    &cfg.Reason,
		"process":   &cfg.Process,
		"output":    &cfg.Output,
		"log-level": &cfg.LogLevel,
	} {
		if v := flagValue(cmd, name); v != "" {
			*dst = v
		}
	}
	if flagValue(cmd, "db") != "" && flagValue(cmd, "gis") == "" && os.Getenv("HLU_GIS_PATH") == "" {
		cfg.GISPath = config.DefaultGISPath(cfg.DBPath)
	}
}

func flagValue(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}
