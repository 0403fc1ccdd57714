// File: cmd/personas.go
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/config"
	"github.com/xkilldash9x/usersim-cli/internal/llmclient"
	"github.com/xkilldash9x/usersim-cli/internal/observability"
	"github.com/xkilldash9x/usersim-cli/internal/persona"
)

// newPersonasCmd creates the `personas` command, which synthesizes a batch
// of personas without running a simulation. Useful for reviewing or curating
// the population before pointing it at a site.
func newPersonasCmd() *cobra.Command {
	personasCmd := &cobra.Command{
		Use:   "personas",
		Short: "Generates a batch of personas and writes them as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			count, err := cmd.Flags().GetInt("count")
			if err != nil {
				return err
			}
			if count <= 0 {
				count = 1
			}
			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return err
			}

			llm, err := llmclient.NewGeminiClient(ctx, cfg.LLM, logger)
			if err != nil {
				return fmt.Errorf("creating LLM client: %w", err)
			}
			defer func() {
				if err := llm.Close(); err != nil {
					logger.Warn("LLM client close failed", zap.Error(err))
				}
			}()

			generator := persona.NewGenerator(llm, logger)
			personas, err := generator.GenerateBatch(ctx, count, cfg.Simulation.Constraints)
			if err != nil {
				return fmt.Errorf("generating personas: %w", err)
			}

			logger.Info("Personas generated", zap.Int("count", len(personas)))
			return writePersonas(cmd, personas, output)
		},
	}

	personasCmd.Flags().IntP("count", "n", 3, "Number of personas to generate.")
	personasCmd.Flags().StringP("output", "o", "", "Output file path. Writes to stdout if unset.")

	return personasCmd
}

func writePersonas(cmd *cobra.Command, personas []schemas.Persona, output string) error {
	out, err := json.MarshalIndent(personas, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render personas: %w", err)
	}
	if output == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}
	if err := os.WriteFile(output, out, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d personas to %s\n", len(personas), output)
	return nil
}
