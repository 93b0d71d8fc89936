package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	feedapp "github.com/stacklok/catalog-feed-server/internal/app"
	"github.com/stacklok/catalog-feed-server/internal/service"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register published feeds with the remote catalog service",
	Long: `Register every published feed file with the remote catalog service and print
the resulting destinations. Feeds that are already registered are updated when
their location changed and left alone otherwise.`,
	RunE: runRegister,
}

func init() {
	addConfigFlag(registerCmd)
}

func runRegister(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.RegistrationEnabled() {
		return fmt.Errorf("registration is not enabled in the configuration")
	}

	server, err := feedapp.NewFeedApp(ctx, feedapp.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer server.Close()
	c := server.Components()

	if err := c.Registrar.HandleFeedRegistration(ctx); err != nil {
		return err
	}

	dests, err := c.FeedService.ListDestinations(ctx)
	if err != nil {
		return err
	}
	return printJSON(struct {
		Destinations []service.DestinationStatus `json:"destinations"`
	}{Destinations: dests})
}
