package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryan-buckman/movierec/internal/backend"
	"github.com/bryan-buckman/movierec/internal/config"
	"github.com/bryan-buckman/movierec/internal/database"
	"github.com/bryan-buckman/movierec/internal/logging"
	"github.com/bryan-buckman/movierec/internal/poster"
	"github.com/bryan-buckman/movierec/internal/server"
	"github.com/bryan-buckman/movierec/internal/session"
	"github.com/bryan-buckman/movierec/internal/supervisor"
	"github.com/bryan-buckman/movierec/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "movierec: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// The terminal UI owns the screen, so logs go to a file or nowhere.
	var out io.Writer = os.Stderr
	if cfg.Logging.File != "" {
		f, err := logging.OpenFile(cfg.Logging.File)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	} else if cfg.UI.Mode == config.ModeTerminal {
		out = io.Discard
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: out})
	log := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New("movierec", logging.WithComponent("supervisor"))

	opts := backend.Options{
		Timeout: cfg.Backend.Timeout,
		Rate:    cfg.Backend.Rate,
		Burst:   cfg.Backend.Burst,
	}
	if cfg.Cache.Driver != "" {
		db, err := database.Open(cfg.Cache.Driver, cfg.Cache.DSN, cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("open search cache: %w", err)
		}
		defer db.Close()
		log.Info().Str("database", db.DatabaseType()).Msg("search cache enabled")
		opts.Cache = db
		sup.Add(database.NewJanitor(db, cfg.Cache.PurgeInterval))
	}
	client := backend.NewClient(cfg.Backend.BaseURL, opts)

	log.Info().
		Str("mode", cfg.UI.Mode).
		Str("backend", cfg.Backend.BaseURL).
		Msg("starting movierec")

	if cfg.UI.Mode == config.ModeTerminal {
		return runTerminal(ctx, cfg, client, sup.ServeBackground(ctx), stop)
	}

	reg := server.NewRegistry(client, cfg.Server.SessionIdle)
	srv, err := server.New(server.Config{
		Addr:       cfg.Server.Addr,
		PosterBase: cfg.Posters.BaseURL,
		RateLimit:  cfg.Server.RateLimit,
	}, reg)
	if err != nil {
		return err
	}
	sup.Add(reg)
	sup.Add(srv)

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	log.Info().Msg("stopped")
	return nil
}

// runTerminal drives one session from the terminal while background
// services run under the supervisor.
func runTerminal(ctx context.Context, cfg *config.Config, client *backend.Client, services <-chan error, stop context.CancelFunc) error {
	store := session.NewStore(client, session.WithLogger(logging.WithComponent("session")))
	defer store.Close()

	loader := poster.NewLoader(cfg.Posters.BaseURL, poster.Options{
		Concurrency: cfg.Posters.Concurrency,
		Delay:       cfg.Posters.Delay,
	})

	err := tui.Run(ctx, store, loader)
	stop()
	if serr := <-services; serr != nil && !errors.Is(serr, context.Canceled) && err == nil {
		err = fmt.Errorf("supervisor: %w", serr)
	}
	return err
}
