package app

import (
	"context"

	"github.com/spf13/cobra"

	feedapp "github.com/stacklok/catalog-feed-server/internal/app"
	"github.com/stacklok/catalog-feed-server/internal/service"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the feed generation status and destinations as JSON",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Bool("inspect", false, "Parse the published feed files and include a summary")
	addConfigFlag(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	inspect, err := cmd.Flags().GetBool("inspect")
	if err != nil {
		return err
	}

	server, err := feedapp.NewFeedApp(ctx, feedapp.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer server.Close()
	svc := server.Components().FeedService

	st, err := svc.GetStatus(ctx)
	if err != nil {
		return err
	}
	dests, err := svc.ListDestinations(ctx, service.WithInspect(inspect))
	if err != nil {
		return err
	}

	return printJSON(struct {
		*service.FeedStatus
		Destinations []service.DestinationStatus `json:"destinations"`
	}{FeedStatus: st, Destinations: dests})
}
