package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flosch/pongo2/v6"
	"github.com/spf13/cobra"

	"github.com/conneroisu/tmplserve/internal/config"
	router "github.com/conneroisu/tmplserve/internal/http"
	"github.com/conneroisu/tmplserve/internal/logging"
	"github.com/conneroisu/tmplserve/internal/middleware"
	"github.com/conneroisu/tmplserve/internal/sanitize"
	"github.com/conneroisu/tmplserve/internal/server"
	"github.com/conneroisu/tmplserve/internal/templates"
	"github.com/conneroisu/tmplserve/internal/watcher"
	"github.com/conneroisu/tmplserve/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the HTTP server",
	Long: `Start the HTTP server on server.host:server.port.

With --hot-reload the template directory is watched. Every change rebuilds
the template environment and connected browsers reload through /_livereload.

Examples:
  tmplserve serve
  tmplserve serve --port 8080 --hot-reload
  TMPLSERVE_SANITIZE_POLICY=strict tmplserve serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.IntP("port", "p", config.DefaultPort, "port to serve on")
	flags.String("host", config.DefaultHost, "host to bind to")
	flags.String("root", config.DefaultContentRoot, "static content directory")
	flags.String("templates", config.DefaultTemplateRoot, "template directory")
	flags.String("policy", config.DefaultPolicy, "sanitizer policy (ugc, strict)")
	flags.Bool("hot-reload", false, "watch templates and reload browsers on change")

	bindFlags(flags, map[string]string{
		"port":       "server.port",
		"host":       "server.host",
		"root":       "content.root",
		"templates":  "content.templates",
		"policy":     "sanitize.policy",
		"hot-reload": "development.hot_reload",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// serve runs until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *logging.ServerLogger) error {
	sanitizer, err := sanitize.New(cfg.Sanitize.Policy)
	if err != nil {
		return err
	}

	op := logger.StartOperation("load_templates")
	store, err := templates.New(cfg.Content.Templates,
		templates.WithLogger(logger),
		templates.WithGlobals(pongo2.Context{"live_reload": cfg.Development.HotReload}),
	)
	if err != nil {
		op.EndWithError(ctx, err)
		return fmt.Errorf("failed to load templates: %w", err)
	}
	op.End(ctx)

	opts := []server.Option{server.WithLogger(logger)}

	if cfg.Development.HotReload {
		fw, err := watcher.NewFileWatcher(cfg.Development.Debounce, watcher.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		defer fw.Stop()

		if err := store.Watch(ctx, fw); err != nil {
			return err
		}

		live := websocket.NewManager(logger,
			websocket.WithOriginPatterns(cfg.Development.AllowedOrigins...))
		defer live.Shutdown()
		live.Attach(store)
		opts = append(opts, server.WithLiveReload(live))
	}

	srv, err := server.New(cfg.Content, store, sanitizer, opts...)
	if err != nil {
		return err
	}

	r := router.NewRouter(cfg.Server, srv, middleware.NewDefaultChain(logger))
	if err := r.Listen(); err != nil {
		return err
	}

	logger.Info(ctx, "Server listening",
		"addr", r.Addr(),
		"content", cfg.Content.Root,
		"templates", cfg.Content.Templates,
		"policy", sanitizer.Policy(),
		"hot_reload", cfg.Development.HotReload)

	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info(context.Background(), "Server stopped")
	return nil
}
