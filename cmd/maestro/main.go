// Package main provides the CLI entry point for the Maestro agent runtime.
//
// Maestro loads declarative agent definitions from a workspace, binds them
// to chat models and tools, and serves their integrations and triggers.
//
// # Basic Usage
//
// Start the runtime:
//
//	maestro serve --config maestro.yaml
//
// Validate a workspace without starting it:
//
//	maestro validate --config maestro.yaml
//
// # Environment Variables
//
// Configuration values support ${VAR} expansion, so API keys are usually
// provided via the environment:
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - GEMINI_API_KEY: Google API key for Gemini models
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/maestro/internal/config"
	"github.com/haasonsaas/maestro/internal/observability"
	"github.com/haasonsaas/maestro/internal/orchestrator"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "maestro",
		Short: "Maestro - Declarative AI agent runtime",
		Long: `Maestro runs agents declared as YAML files: each agent binds a system
prompt to a chat model, tools, skills, and persistent memory, and is reachable
through chat and email integrations, cron schedules, and webhooks.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildValidateCmd(),
		buildAgentsCmd(),
	)
	return rootCmd
}

// buildServeCmd creates the "serve" command that runs the full runtime
// until SIGINT or SIGTERM.
func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := observability.NewLogger(observability.LogConfig{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
			})
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			orch, err := orchestrator.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("build runtime: %w", err)
			}
			if err := orch.Start(ctx); err != nil {
				return fmt.Errorf("start runtime: %w", err)
			}

			<-ctx.Done()
			logger.Info("shutdown signal received")
			return orch.Shutdown(context.Background())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "maestro.yaml", "Path to YAML configuration file")
	return cmd
}

// buildValidateCmd creates the "validate" command that loads the config
// and every agent definition, reporting errors without serving.
func buildValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and agent definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			defs, err := config.DiscoverAgents(cfg.Workspace)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK: %d model(s), workspace %s\n", len(cfg.Models), cfg.Workspace)
			for _, def := range defs {
				fmt.Fprintf(out, "Agent OK: %s (llm=%s, tools=%d, integrations=%d, triggers=%d)\n",
					def.Name, def.LLM.Name, len(def.Tools), len(def.Integrations), len(def.Triggers))
				if _, ok := cfg.Models[def.LLM.Name]; !ok {
					return fmt.Errorf("agent %q references unknown model config %q", def.Name, def.LLM.Name)
				}
			}
			if len(defs) == 0 {
				fmt.Fprintln(out, "No agent definitions found under agents/")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "maestro.yaml", "Path to YAML configuration file")
	return cmd
}

// buildAgentsCmd creates the "agents" command that lists discovered
// agent definitions.
func buildAgentsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agent definitions in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defs, err := config.DiscoverAgents(cfg.Workspace)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(defs) == 0 {
				fmt.Fprintln(out, "No agent definitions found.")
				return nil
			}
			for _, def := range defs {
				desc := def.Description
				if desc == "" {
					desc = "(no description)"
				}
				fmt.Fprintf(out, "%-20s %-10s %s\n", def.Name, def.Version, desc)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "maestro.yaml", "Path to YAML configuration file")
	return cmd
}
