// File: cmd/simulate.go
package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/browser"
	"github.com/xkilldash9x/usersim-cli/internal/config"
	"github.com/xkilldash9x/usersim-cli/internal/llmclient"
	"github.com/xkilldash9x/usersim-cli/internal/observability"
	"github.com/xkilldash9x/usersim-cli/internal/orchestrator"
	"github.com/xkilldash9x/usersim-cli/internal/persona"
	"github.com/xkilldash9x/usersim-cli/internal/store"
)

// newSimulateCmd creates and configures the `simulate` command.
func newSimulateCmd() *cobra.Command {
	simulateCmd := &cobra.Command{
		Use:   "simulate [url]",
		Short: "Runs persona-driven usability sessions against a target URL",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so command-line values override config and env.
			if err := viper.BindPFlag("simulation.intent", cmd.Flags().Lookup("intent")); err != nil {
				return err
			}
			if err := viper.BindPFlag("simulation.sessions", cmd.Flags().Lookup("sessions")); err != nil {
				return err
			}
			if err := viper.BindPFlag("simulation.concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			if err := viper.BindPFlag("agent.max_steps", cmd.Flags().Lookup("max-steps")); err != nil {
				return err
			}
			if err := viper.BindPFlag("store.type", cmd.Flags().Lookup("store")); err != nil {
				return err
			}
			return viper.BindPFlag("store.trace_dir", cmd.Flags().Lookup("trace-dir"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			cfg.Simulation.TargetURL = args[0]
			if cfg.Simulation.Intent == "" {
				return fmt.Errorf("an intent is required: pass --intent or set simulation.intent")
			}

			runner, cleanup, err := buildRunner(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize simulation components: %w", err)
			}
			defer cleanup()

			report, err := runner.Run(ctx)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to render run report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if report.Errors > 0 {
				return fmt.Errorf("%d of %d sessions failed with infrastructure errors",
					report.Errors, len(report.Sessions))
			}
			return nil
		},
	}

	simulateCmd.Flags().StringP("intent", "i", "", "The task the personas try to accomplish. (Required unless configured)")
	simulateCmd.Flags().IntP("sessions", "n", 0, "Number of persona sessions to run. (Overrides config/env)")
	simulateCmd.Flags().IntP("concurrency", "j", 0, "Number of sessions to run at once. (Overrides config/env)")
	simulateCmd.Flags().Int("max-steps", 0, "Fast-cycle budget per session. (Overrides config/env)")
	simulateCmd.Flags().String("store", "", "Trace sink backend: 'file' or 'postgres'. (Overrides config/env)")
	simulateCmd.Flags().String("trace-dir", "", "Directory for file-sink traces. (Overrides config/env)")

	return simulateCmd
}

// buildRunner wires the real collaborators for one simulation run. The
// returned cleanup releases them in reverse order of creation.
func buildRunner(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*orchestrator.Runner, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	llm, err := llmclient.NewGeminiClient(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, cleanup, fmt.Errorf("creating LLM client: %w", err)
	}
	cleanups = append(cleanups, func() {
		if err := llm.Close(); err != nil {
			logger.Warn("LLM client close failed", zap.Error(err))
		}
	})

	sink, sinkCleanup, err := buildSink(ctx, cfg, logger)
	if err != nil {
		return nil, cleanup, err
	}
	cleanups = append(cleanups, sinkCleanup)

	manager := browser.NewManager(ctx, cfg.Browser, logger)
	cleanups = append(cleanups, manager.Close)

	factory := func(sessionID string, p schemas.Persona) (schemas.BrowserSession, error) {
		return manager.NewSessionFor(sessionID, p)
	}

	generator := persona.NewGenerator(llm, logger)
	runner := orchestrator.NewRunner(cfg, llm, llm, generator, factory, sink, logger)
	return runner, cleanup, nil
}

// buildSink selects the trace backend from configuration.
func buildSink(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.TraceSink, func(), error) {
	switch cfg.Store.Type {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, func() {}, fmt.Errorf("connecting to postgres: %w", err)
		}
		sink, err := store.NewPostgresSink(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, func() {}, err
		}
		return sink, pool.Close, nil
	default:
		sink, err := store.NewFileSink(cfg.Store.TraceDir, logger)
		if err != nil {
			return nil, func() {}, err
		}
		return sink, func() {
			if err := sink.Close(); err != nil {
				logger.Warn("File sink close failed", zap.Error(err))
			}
		}, nil
	}
}
