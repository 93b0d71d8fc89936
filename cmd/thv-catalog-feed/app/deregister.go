package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	feedapp "github.com/stacklok/catalog-feed-server/internal/app"
	"github.com/stacklok/catalog-feed-server/internal/scheduler"
)

var deregisterCmd = &cobra.Command{
	Use:   "deregister",
	Short: "Remove the feed files and reset all feed state",
	Long: `Cancel scheduled steps, delete the feed files, clear the destinations and
registered feed ids and reset the generation state. A new feed id is created,
so the next generation starts from a clean namespace.

Feed profiles already created in the remote catalog service are left in place.`,
	RunE: runDeregister,
}

func init() {
	deregisterCmd.Flags().BoolP("yes", "y", false, "Answer yes to all questions")
	addConfigFlag(deregisterCmd)
}

func runDeregister(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ok, err := confirm(cmd, "This deletes all feed files and feed state. Continue?")
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("Deregistration cancelled by user")
		return nil
	}

	server, err := feedapp.NewFeedApp(ctx, feedapp.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer server.Close()
	c := server.Components()

	previous, err := c.Registry.FeedID(ctx)
	if err != nil {
		return err
	}

	// Files are removed before the destinations that name them
	if err := c.Generator.Deregister(ctx); err != nil {
		return fmt.Errorf("failed to remove feed files: %w", err)
	}
	if err := c.Scheduler.CancelAll(ctx, scheduler.StepRegister); err != nil {
		return err
	}
	if err := c.Registry.Deregister(ctx); err != nil {
		return fmt.Errorf("failed to clear destinations: %w", err)
	}

	current, err := c.Registry.FeedID(ctx)
	if err != nil {
		return err
	}
	slog.Info("Feed deregistered", "previous_feed_id", previous, "feed_id", current)
	return nil
}
