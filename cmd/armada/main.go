// Command armada is the maintenance CLI: database cleanup, usage
// stats, and provider connectivity checks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	armada "github.com/armadahq/armada"
	"github.com/armadahq/armada/internal/config"
	mempg "github.com/armadahq/armada/memory/postgres"
	memsqlite "github.com/armadahq/armada/memory/sqlite"
	"github.com/armadahq/armada/provider/resolve"
	"github.com/armadahq/armada/usage"
)

var (
	configPath string
	days       int
	model      string
	watch      bool
)

// memoryStore is the durable-store surface the CLI needs beyond the
// armada.Memory interface.
type memoryStore interface {
	armada.Memory
	Prune(ctx context.Context, days int) (int, error)
}

// openMemory opens the configured durable store: PostgreSQL when
// memory.postgres_url is set, SQLite otherwise. When
// memory.cache_ttl_seconds is positive the returned Memory reads through
// an in-process cache; the concrete store is returned alongside for
// operations the interface does not carry.
func openMemory(ctx context.Context, cfg config.Config) (memoryStore, armada.Memory, func(), error) {
	var (
		store  memoryStore
		closer func()
	)
	if cfg.Memory.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Memory.PostgresURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg := mempg.New(pool)
		if err := pg.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("init postgres memory: %w", err)
		}
		store, closer = pg, pool.Close
	} else {
		db, err := memsqlite.Open(ctx, cfg.Memory.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open memory store: %w", err)
		}
		store, closer = db, func() { db.Close() }
	}

	var mem armada.Memory = store
	if ttl := cfg.Memory.CacheTTLSeconds; ttl > 0 {
		mem = armada.NewCachedMemory(store, armada.NewMapCache(), "", time.Duration(ttl)*time.Second)
	}
	return store, mem, closer, nil
}

var rootCmd = &cobra.Command{
	Use:           "armada",
	Short:         "Maintenance tooling for armada deployments",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var cleanupMemoryCmd = &cobra.Command{
	Use:   "cleanup-memory",
	Short: "Delete expired memory records, and stale ones with --days",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(configPath)

		store, mem, closer, err := openMemory(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closer()

		runOnce := func() error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			expired, err := mem.Cleanup(ctx)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			fmt.Printf("removed %d expired records\n", expired)

			if days > 0 {
				stale, err := store.Prune(ctx, days)
				if err != nil {
					return fmt.Errorf("prune: %w", err)
				}
				fmt.Printf("removed %d records older than %d days\n", stale, days)
			}
			return nil
		}

		if !watch {
			return runOnce()
		}
		interval := time.Duration(cfg.Memory.CleanupIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = time.Hour
		}
		for {
			if err := runOnce(); err != nil {
				return err
			}
			select {
			case <-time.After(interval):
			case <-cmd.Context().Done():
				return nil
			}
		}
	},
}

var cleanupTokensCmd = &cobra.Command{
	Use:   "cleanup-tokens",
	Short: "Delete token usage rows older than --days",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(configPath)
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		tracker, err := usage.Open(ctx, cfg.Usage.Path)
		if err != nil {
			return fmt.Errorf("open usage store: %w", err)
		}
		defer tracker.Close()

		n, err := tracker.Cleanup(ctx, days)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		fmt.Printf("removed %d usage rows older than %d days\n", n, days)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory and token usage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(configPath)
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		_, mem, closer, err := openMemory(ctx, cfg)
		if err != nil {
			return err
		}
		defer closer()

		ms, err := mem.Stats(ctx)
		if err != nil {
			return fmt.Errorf("memory stats: %w", err)
		}
		fmt.Printf("memory: %d records (%d expired)\n", ms.Records, ms.Expired)

		tracker, err := usage.Open(ctx, cfg.Usage.Path)
		if err != nil {
			return fmt.Errorf("open usage store: %w", err)
		}
		defer tracker.Close()

		sum, err := tracker.Summary(ctx)
		if err != nil {
			return fmt.Errorf("usage summary: %w", err)
		}
		fmt.Printf("usage (30d): %d tokens across %d requests (avg %.1f)\n",
			sum.MonthlyTokens, sum.MonthlyRequests, sum.AvgTokensPerRequest)

		stats, err := tracker.Stats(ctx, usage.Filter{Days: days})
		if err != nil {
			return fmt.Errorf("usage stats: %w", err)
		}
		for _, s := range stats {
			line := fmt.Sprintf("  %s/%s: %d tokens, %d requests", s.Provider, s.Model, s.TotalTokens, s.Requests)
			if s.Cost > 0 {
				line += fmt.Sprintf(", $%.4f", s.Cost)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var testProviderCmd = &cobra.Command{
	Use:   "test-provider <driver>",
	Short: "Send a short prompt through a configured provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(configPath)
		driver := args[0]

		creds := resolve.Credentials{
			Driver: driver,
			APIKey: cfg.APIKeyFor(driver),
			Model:  cfg.Provider.Model,
		}
		if driver == cfg.Provider.Driver {
			creds.BaseURL = cfg.Provider.BaseURL
		}
		if driver == "ollama" {
			creds.BaseURL = cfg.Providers.OllamaHost
		}
		if model != "" {
			creds.Model = model
		}

		p, err := resolve.Provider(creds)
		if err != nil {
			return fmt.Errorf("resolve %q: %w", driver, err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		out, err := p.Generate(ctx, "Reply with the single word: ok", armada.GenerateOptions{MaxTokens: 16})
		if err != nil {
			return fmt.Errorf("generate via %s: %w", driver, err)
		}
		fmt.Printf("%s (%s): %s\n", p.Name(), p.Model(), out)
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("ARMADA_CONFIG"), "path to armada.toml")
	cleanupMemoryCmd.Flags().IntVar(&days, "days", 0, "also remove records not updated in this many days")
	cleanupMemoryCmd.Flags().BoolVar(&watch, "watch", false, "repeat cleanup every memory.cleanup_interval_seconds")
	cleanupTokensCmd.Flags().IntVar(&days, "days", 90, "remove rows older than this many days")
	statsCmd.Flags().IntVar(&days, "days", 0, "limit per-model stats to this many days")
	testProviderCmd.Flags().StringVar(&model, "model", "", "override the configured model")

	rootCmd.AddCommand(cleanupMemoryCmd, cleanupTokensCmd, statsCmd, testProviderCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "armada:", err)
		os.Exit(1)
	}
}
