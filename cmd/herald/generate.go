package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ainexus/herald/config"
	"github.com/ainexus/herald/internal/archive"
	"github.com/ainexus/herald/internal/feeds"
	"github.com/ainexus/herald/internal/llm"
	"github.com/ainexus/herald/internal/pipeline"
	"github.com/ainexus/herald/internal/store"
	"github.com/ainexus/herald/internal/telemetry"
)

func generateCMD() *cobra.Command {
	var cfgPath string
	var generate = &cobra.Command{
		Use:   "generate",
		Short: "Run one newsletter generation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			provider, err := llm.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}

			var cache feeds.Cache
			if cfg.Storage.Redis.Host != "" {
				rdb := redis.NewClient(&redis.Options{
					Addr:     cfg.Storage.Redis.Addr(),
					Password: cfg.Storage.Redis.Password,
					DB:       cfg.Storage.Redis.DB,
				})
				if err := rdb.Ping(ctx).Err(); err == nil {
					cache = feeds.NewRedisCache(rdb)
				}
			}
			fetcher := feeds.NewFetcher(cfg.Feeds, cache)

			arc, err := archive.New(cfg.Storage, cfg.Archive)
			if err != nil {
				return err
			}
			defer arc.Close()

			// run history is optional for one-shot generation
			var recorder pipeline.Recorder
			if dsn := cfg.Storage.Postgres.DSN(); dsn != "" {
				st, err := store.NewWithDSN(ctx, dsn)
				if err != nil {
					return fmt.Errorf("connect postgres: %w", err)
				}
				defer st.Close()
				recorder = st
			}

			tel := telemetry.NewTelemetry(cfg.Telemetry)
			defer tel.Shutdown()

			orch, err := pipeline.NewOrchestrator(cfg, provider, fetcher, arc, recorder, tel)
			if err != nil {
				return err
			}

			state, err := orch.Generate(ctx, "manual")
			if err != nil {
				for _, rec := range state.Errors {
					fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", rec.Kind, rec.Stage, rec.Message)
				}
				return err
			}
			fmt.Printf("newsletter written to %s (topics=%d dropped=%d cost=$%.4f)\n",
				state.ArtifactPath, len(state.Topics), len(state.DroppedTopics), state.Cost)
			return nil
		},
	}
	generate.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config)")

	return generate
}
