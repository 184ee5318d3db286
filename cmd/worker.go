package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/dinehub/services/orders/cache"
	"example.com/dinehub/services/orders/eventstore"
	"example.com/dinehub/services/orders/handlers"
	"example.com/dinehub/services/orders/projections"
	"example.com/dinehub/services/orders/repositories"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the projection worker",
	Long:  `Start the background worker that folds events into read models and abandons idle sessions`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	log.Info().Msg("Starting worker")

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

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

	// Initialize projectors
	elasticClient, prefix := newElasticClient()
	orderProjector := projections.NewOrderProjector(orderRepo, elasticClient, prefix)
	sessionProjector := projections.NewSessionProjector(sessionRepo)

	// Initialize and start the event processor
	processor := projections.NewEventProcessor(eventStore, checkpointRepo, orderProjector, sessionProjector)
	processor.SetBatchSize(cfg.ProjectionBatchSize)
	processor.SetInterval(cfg.ProjectionInterval)
	processor.Start()
	defer processor.Stop()

	// The sweeper issues ordinary AbandonSession commands
	ledger, err := cache.NewRedisLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	sessionHandler := handlers.NewSessionHandler(eventStore, ledger)
	sweeper := handlers.NewSessionSweeper(sessionRepo, sessionHandler, cfg.SessionIdleTimeout)

	g, ctx := errgroup.WithContext(ctx)

	// Start the idle session sweep job
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.SessionSweepEvery),
			gocron.NewTask(func() {
				if _, err := sweeper.Sweep(ctx); err != nil {
					log.Error().Err(err).Msg("Idle session sweep failed")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		return scheduler.Shutdown()
	})

	// Wait for shutdown
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker exited properly")
	return nil
}

// newElasticClient returns the search client, or nil when search is
// disabled or unreachable. Projections treat a nil client as "skip
// indexing".
func newElasticClient() (*elasticsearch.Client, string) {
	if !cfg.ElasticEnabled {
		return nil, ""
	}

	client, err := projections.NewElasticsearchClient(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch, continuing without search indexing")
		return nil, ""
	}

	if err := projections.EnsureIndices(client, cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to ensure Elasticsearch indices")
	}

	return client, cfg.ElasticPrefix
}
