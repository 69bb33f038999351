package cli

import (
	"context"
	"fmt"

	"github.com/platinummonkey/catalog/pkg/config"
	"github.com/platinummonkey/catalog/pkg/observability"
	"github.com/platinummonkey/catalog/pkg/storage"
	"github.com/platinummonkey/catalog/pkg/storage/postgres"
	"github.com/spf13/cobra"
)

func newInitDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the products table and seed the sample catalog",
		Long: `init-db creates the products table if it does not exist and inserts the
sample catalog when the table is empty. Running it again is harmless.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.OutOrStdout())
			if cfg.UsesMemoryStore() {
				logger.Info("In-process store selected, nothing to initialize")
				return nil
			}

			db, err := postgres.Open(postgres.ConnectionConfig{
				URL:         cfg.Database.URL,
				PoolSize:    cfg.Database.PoolSize,
				MaxOverflow: cfg.Database.MaxOverflow,
				Recycle:     cfg.PoolRecycle(),
			})
			if err != nil {
				return err
			}
			if err := postgres.PingOnce(db, cfg.Observability.HealthProbeTimeout); err != nil {
				db.Close()
				return err
			}

			store := postgres.NewStore(db, cfg.Database.PoolSize)
			defer store.Close()
			return initDB(cmd.Context(), store, logger)
		},
	}
}

// initDB creates the schema and seeds an empty table
func initDB(ctx context.Context, store *postgres.Store, logger *observability.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := store.CreateSchema(ctx); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	logger.Info("Products table ready")

	inserted, err := store.Seed(ctx, storage.SampleProducts())
	if err != nil {
		return fmt.Errorf("failed to seed products: %w", err)
	}
	if inserted == 0 {
		logger.Info("Products table already populated, skipping seed")
		return nil
	}
	logger.WithField("count", inserted).Infof("%d sample products inserted", inserted)
	return nil
}
