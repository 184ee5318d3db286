package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/dinehub/services/orders/api"
	"example.com/dinehub/services/orders/cache"
	"example.com/dinehub/services/orders/eventstore"
	"example.com/dinehub/services/orders/handlers"
	"example.com/dinehub/services/orders/messaging"
	"example.com/dinehub/services/orders/projections"
	"example.com/dinehub/services/orders/repositories"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	log.Info().Msg("Starting server")

	// Connect to database
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}

	// Initialize event store
	eventStore := eventstore.NewGormEventStore(db)

	// Initialize read model repositories
	orderRepo := repositories.NewOrderRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	checkpointRepo := repositories.NewCheckpointRepository(db)

	// Initialize idempotency ledger
	ledger, err := cache.NewRedisLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	// Initialize command handlers
	sessionHandler := handlers.NewSessionHandler(eventStore, ledger)

	var kitchen handlers.KitchenNotifier
	var azureClient *messaging.AzureClient
	if cfg.AzureQueueConnStr != "" {
		azureClient, err = messaging.NewAzureClient(cfg)
		if err != nil {
			return err
		}

		notifier, err := messaging.NewKitchenNotifier(azureClient, cfg.AzureKitchenQueueName)
		if err != nil {
			return err
		}
		kitchen = notifier
	}

	orderHandler := handlers.NewOrderHandler(eventStore, ledger, kitchen)

	// Start command queue consumers
	if azureClient != nil {
		msgProcessor := messaging.NewProcessor(sessionHandler, orderHandler)

		go func() {
			if err := azureClient.StartConsumers(cfg.AzureCommandsQueueName, msgProcessor); err != nil {
				log.Fatal().Err(err).Msg("Failed to start commands queue consumer")
			}
		}()
	}

	// Rebuilder for the admin endpoint
	rebuilder := newRebuilder(eventStore, checkpointRepo, orderRepo, sessionRepo)

	// Initialize server
	server := api.NewServer(cfg, sessionHandler, orderHandler, orderRepo, sessionRepo, rebuilder)

	// Start HTTP server
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown server gracefully
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
	return nil
}

// newRebuilder wires the projectors the worker runs, so an admin rebuild
// resets exactly what the worker maintains.
func newRebuilder(
	store eventstore.EventStore,
	checkpoints repositories.CheckpointRepository,
	orders repositories.OrderRepository,
	sessions repositories.SessionRepository,
) *projections.Rebuilder {
	elasticClient, prefix := newElasticClient()
	orderProjector := projections.NewOrderProjector(orders, elasticClient, prefix)
	sessionProjector := projections.NewSessionProjector(sessions)

	return projections.NewRebuilder(store, checkpoints, orderProjector, sessionProjector)
}
