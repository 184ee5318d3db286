package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/dinehub/services/orders/eventstore"
	"example.com/dinehub/services/orders/projections"
	"example.com/dinehub/services/orders/repositories"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [projector]",
	Short: "Rebuild a projection from the event log",
	Long: `Truncate a projection's read model and replay the full event log into it.
Valid projector names: ` + projections.OrderProjectorName + `, ` + projections.SessionProjectorName,
	Args: cobra.ExactArgs(1),
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	name := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}

	eventStore := eventstore.NewGormEventStore(db)
	orderRepo := repositories.NewOrderRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	checkpointRepo := repositories.NewCheckpointRepository(db)

	rebuilder := newRebuilder(eventStore, checkpointRepo, orderRepo, sessionRepo)

	log.Info().Str("projector", name).Msg("Rebuilding projection")

	applied, err := rebuilder.Rebuild(ctx, name)
	if err != nil {
		return err
	}

	log.Info().Str("projector", name).Int64("events", applied).Msg("Projection rebuilt")
	return nil
}
