// Command friendloc follows friends on 2GIS Friends, keeps their last known
// positions in sqlite and relays movements to a GPS tracker.
//
// Usage:
//
//	friendloc [--config friendloc.yml] [--listen :8080] [--db friendloc.db]
//	friendloc migrate up|down|status|force <version>
//	friendloc --version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/banshee-data/friendloc/internal/api"
	"github.com/banshee-data/friendloc/internal/config"
	"github.com/banshee-data/friendloc/internal/db"
	"github.com/banshee-data/friendloc/internal/forward"
	"github.com/banshee-data/friendloc/internal/httputil"
	"github.com/banshee-data/friendloc/internal/monitoring"
	"github.com/banshee-data/friendloc/internal/notify"
	"github.com/banshee-data/friendloc/internal/reconcile"
	"github.com/banshee-data/friendloc/internal/stream"
	"github.com/banshee-data/friendloc/internal/version"
	"github.com/banshee-data/friendloc/internal/viewport"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	listen      string
	dbPath      string
	showVersion bool
	args        []string
}

func parseFlags(args []string, out io.Writer) (*options, error) {
	var o options
	fs := pflag.NewFlagSet("friendloc", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&o.configPath, "config", "c", "", "path to the YAML config file (defaults apply when empty)")
	fs.StringVar(&o.listen, "listen", "", "admin API listen address (overrides server.listen)")
	fs.StringVar(&o.dbPath, "db", "", "sqlite database path (overrides database.path)")
	fs.BoolVar(&o.showVersion, "version", false, "print version information and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.args = fs.Args()
	return &o, nil
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(o *options) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.listen != "" {
		cfg.Server.Listen = o.listen
	}
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	return cfg, nil
}

func run(args []string, out io.Writer) error {
	o, err := parseFlags(args, out)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if o.showVersion {
		fmt.Fprintln(out, version.String())
		return nil
	}

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	if len(o.args) > 0 {
		switch o.args[0] {
		case "migrate":
			return db.RunMigrateCommand(o.args[1:], cfg.Database.Path, out)
		default:
			return fmt.Errorf("unknown command %q", o.args[0])
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg)
}

func serve(ctx context.Context, cfg *config.Config) error {
	monitoring.Infof("%s starting", version.String())

	database, err := db.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	defaults := db.RuntimeSettings{
		Token:             cfg.Stream.Token,
		MinUpdateInterval: cfg.Reconcile.MinUpdateInterval,
	}
	settings, err := database.LoadRuntimeSettings(ctx, defaults)
	if err != nil {
		return err
	}

	notifier := notify.NewStore(database)
	var fwd forward.Forwarder = forward.Noop{}
	if cfg.Forward.URL != "" {
		client := httputil.NewStandardClient(&http.Client{Timeout: cfg.Forward.Timeout})
		fwd = forward.NewHTTP(cfg.Forward.URL, client, cfg.Forward.Timeout)
	}

	gate := reconcile.NewGate(settings.MinUpdateInterval)
	rec := reconcile.New(database, gate, fwd, notifier, cfg.Forward.Source)
	manager := stream.NewManager(rec, viewport.NewTracker(cfg.Reconcile.ViewportPadding), stream.Options{
		BaseURL:           cfg.Stream.BaseURL,
		AppVersion:        cfg.Stream.AppVersion,
		ReconnectInterval: cfg.Stream.ReconnectInterval,
		Zoom:              cfg.Stream.Zoom,
		Source:            cfg.Forward.Source,
		Notifier:          notifier,
	})

	// A missing token is reported by Start; the admin API stays up so the
	// operator can set one.
	if err := manager.Start(settings.Token, cfg.Stream.Channels); err != nil && !errors.Is(err, stream.ErrNoToken) {
		return err
	}
	defer manager.Stop()

	apiServer := api.NewServer(database, manager, gate, defaults)
	mux := apiServer.ServeMux()
	apiServer.AttachAdminRoutes(mux)
	if err := database.AttachAdminRoutes(mux); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		monitoring.Infof("admin API listening on %s", cfg.Server.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("failed to start server: %w", err)
	}

	monitoring.Infof("shutting down")
	manager.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Warnf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Warnf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Infof("graceful shutdown complete")
	return nil
}
