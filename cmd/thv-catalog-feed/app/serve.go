package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	feedapp "github.com/stacklok/catalog-feed-server/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the catalog feed server",
	Long: `Start the catalog feed server. It serves the status API and runs the background
steps that regenerate the feed files and register them with the remote catalog service.

The server requires a configuration file (--config) that specifies:
- Markets and the public location of the feed files
- The product catalog source (file or database)
- Storage for state and scheduled steps (file or database)
- Optional registration with the remote catalog service

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const defaultGracefulTimeout = 30 * time.Second // Kubernetes-friendly shutdown time

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().Bool("migrate", false, "Apply pending database migrations before starting")
	addConfigFlag(serveCmd)

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		panic(fmt.Sprintf("failed to bind address flag: %v", err))
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	migrate, err := cmd.Flags().GetBool("migrate")
	if err != nil {
		return fmt.Errorf("failed to get migrate flag: %w", err)
	}

	address := viper.GetString("address")
	slog.Info("Starting catalog feed server", "address", address)

	server, err := feedapp.NewFeedApp(ctx,
		feedapp.WithConfig(cfg),
		feedapp.WithAddress(address),
		feedapp.WithAutoMigrate(migrate),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		// Start only returns on its own when something failed
		server.Close()
		return err
	case <-ctx.Done():
	}

	if err := server.Stop(defaultGracefulTimeout); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}
	return <-errCh
}
