// Command checkboxctl inspects and edits the checkbox bit-vector directly in
// the configured store. Edits are not broadcast: connected clients see them
// on their next snapshot.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mrtnsch/checkboxes/internal/adapter/memory"
	"github.com/mrtnsch/checkboxes/internal/adapter/redis"
	"github.com/mrtnsch/checkboxes/internal/domain"
	"github.com/mrtnsch/checkboxes/internal/platform/config"
	"github.com/spf13/cobra"
)

// openStore returns a store and a func releasing its resources.
type openStore func(ctx context.Context) (domain.CheckboxStore, func(), error)

func openConfiguredStore(ctx context.Context) (domain.CheckboxStore, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreBackend == config.BackendMemory {
		return memory.NewBitmapStore(cfg.NumCheckboxes), func() {}, nil
	}

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	store := redis.NewBitmapStore(client, cfg.RedisBitmapName, cfg.NumCheckboxes)
	return store, func() { _ = client.Close() }, nil
}

func newRootCmd(open openStore) *cobra.Command {
	var timeout time.Duration

	rootCmd := &cobra.Command{
		Use:   "checkboxctl",
		Short: "Inspect and edit the shared checkbox state",
		Long: `checkboxctl talks to the same store as the server, configured through
the same environment variables (STORE_BACKEND, REDIS_URL, REDIS_BITMAP_NAME,
NUMBER_OF_CHECKBOXES).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "Store operation timeout")

	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, store domain.CheckboxStore) error) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		store, release, err := open(ctx)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer release()
		return fn(ctx, store)
	}

	rootCmd.AddCommand(
		snapshotCmd(withStore),
		getCmd(withStore),
		setCmd(withStore),
		clearCmd(withStore),
		versionCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd(openConfiguredStore).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
