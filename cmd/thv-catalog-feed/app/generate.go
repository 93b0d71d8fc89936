package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	feedapp "github.com/stacklok/catalog-feed-server/internal/app"
	"github.com/stacklok/catalog-feed-server/internal/generator"
	"github.com/stacklok/catalog-feed-server/internal/status"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run a feed generation cycle in the foreground",
	Long: `Run one full feed generation cycle in the foreground and exit.

The cycle goes through the same persisted steps as the server's background
generation, so it must not run while a server uses the same storage.`,
	RunE: runGenerate,
}

func init() {
	addConfigFlag(generateCmd)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	server, err := feedapp.NewFeedApp(ctx, feedapp.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer server.Close()
	c := server.Components()

	if err := c.Generator.RecoverInterrupted(ctx); err != nil {
		return err
	}
	if err := c.Generator.StartGeneration(ctx, generator.ReasonManual); err != nil {
		return err
	}

	ran, err := c.Scheduler.Drain(ctx)
	if err != nil {
		return fmt.Errorf("feed generation stopped after %d steps: %w", ran, err)
	}

	st, err := c.State.Get(ctx, true)
	if err != nil {
		return err
	}
	slog.Info("Feed generation finished",
		"steps", ran,
		"status", st.Status,
		"products", st.ProductCount,
		"duration", st.LastDuration)

	switch st.Status {
	case status.PhaseGenerated:
		return nil
	case status.PhaseError:
		return fmt.Errorf("feed generation failed: %s", st.ErrorMessage)
	default:
		return fmt.Errorf("feed generation did not complete, status is %s", st.Status)
	}
}
