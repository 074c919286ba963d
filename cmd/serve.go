package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/explainbot/internal/bsky"
	"github.com/explainbot/internal/config"
	"github.com/explainbot/internal/firehose"
	"github.com/explainbot/internal/gen"
	"github.com/explainbot/internal/health"
	"github.com/explainbot/internal/orchestrator"
	"github.com/explainbot/internal/thread"
)

// ServeCommand returns the CLI command that runs the bot.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the mention listener and reply engine",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Human-readable console log output",
			},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.Bool("debug"), c.Bool("pretty"))

			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			return runBot(c.Context, cfg, logger)
		},
	}
}

func setupLogger(debug, pretty bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
	if pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger
	return logger
}

func runBot(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := bsky.NewClient(cfg.Bluesky.Host, cfg.Bluesky.Handle, cfg.Bluesky.Password, logger)
	if err := client.Login(ctx); err != nil {
		return fmt.Errorf("bluesky login failed: %w", err)
	}

	generator, err := gen.New(ctx, cfg.Gemini, logger)
	if err != nil {
		return fmt.Errorf("generator setup failed: %w", err)
	}

	threads := thread.NewManager(client, cfg.PublishRetry, logger)
	orch := orchestrator.New(threads, generator, cfg.Bot, logger)
	listener := firehose.NewListener(cfg.Firehose, client.DID(), orch, client, logger)

	healthSrv := health.NewServer(cfg.Health.Port, listener.Connected, logger)
	go func() {
		if err := healthSrv.Start(); err != nil {
			logger.Error().Err(err).Msg("health server stopped")
		}
	}()

	logger.Info().
		Str("handle", cfg.Bluesky.Handle).
		Str("did", client.DID()).
		Msg("explainbot running")

	err = listener.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	healthSrv.Shutdown(shutdownCtx)

	if err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info().Msg("explainbot stopped")
	return nil
}
