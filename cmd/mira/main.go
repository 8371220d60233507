package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mira-ai/mira/internal/config"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "mira",
		Short: "Mira - personal AI assistant",
		Long: `Mira is a self-hosted personal AI assistant with persistent memory.
This CLI runs the API server and provides a terminal chat client.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		chatCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// maskSecret masks a secret string for display
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func boolStatus(b bool) string {
	if b {
		return "configured"
	}
	return "not configured"
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Current configuration:")
			fmt.Println()

			fmt.Println("Server:")
			fmt.Printf("  Listen:       %s\n", cfg.Server.Addr())
			fmt.Printf("  CORS Origins: %v\n", cfg.Server.CORSOrigins)
			fmt.Println()

			fmt.Println("Database:")
			fmt.Printf("  PostgreSQL: %s\n", maskSecret(cfg.Database.PostgresURL))
			fmt.Println()

			fmt.Println("Valkey:")
			fmt.Printf("  Addr:     %s\n", cfg.Valkey.Addr)
			fmt.Printf("  DB:       %d\n", cfg.Valkey.DB)
			fmt.Printf("  Password: %s\n", maskSecret(cfg.Valkey.Password))
			fmt.Println()

			fmt.Println("Anthropic:")
			fmt.Printf("  API Key:  %s\n", maskSecret(cfg.Anthropic.APIKey))
			fmt.Printf("  Base URL: %s\n", cfg.Anthropic.BaseURL)
			fmt.Println()

			fmt.Println("Generic endpoint:")
			fmt.Printf("  URL:      %s\n", cfg.Generic.URL)
			fmt.Printf("  Model:    %s\n", cfg.Generic.Model)
			fmt.Printf("  API Key:  %s\n", maskSecret(cfg.Generic.APIKey))
			fmt.Printf("  Status:   %s\n", boolStatus(cfg.IsGenericConfigured()))
			fmt.Printf("  Failover: %s (%s)\n", cfg.Generic.FailoverURL, boolStatus(cfg.IsFailoverConfigured()))
			fmt.Println()

			fmt.Println("Embedding:")
			fmt.Printf("  URL:            %s\n", cfg.Embedding.URL)
			fmt.Printf("  Realtime Model: %s\n", cfg.Embedding.RealtimeModel)
			fmt.Printf("  Deep Model:     %s\n", cfg.Embedding.DeepModel)
			fmt.Printf("  Dimensions:     %d\n", cfg.Embedding.Dimensions)
			fmt.Println()

			fmt.Println("Model:")
			fmt.Printf("  Primary:        %s\n", cfg.Model.Primary)
			fmt.Printf("  Utility:        %s\n", cfg.Model.Utility)
			fmt.Printf("  Max Tokens:     %d\n", cfg.Model.MaxTokens)
			fmt.Printf("  Temperature:    %.2f\n", cfg.Model.Temperature)
			fmt.Printf("  Thinking:       %v (budget %d)\n", cfg.Model.ThinkingEnabled, cfg.Model.ThinkingBudget)
			fmt.Printf("  Context Window: %d\n", cfg.Model.ContextWindow)
			fmt.Println()

			fmt.Println("Memory:")
			fmt.Printf("  Surface Limit: %d\n", cfg.Memory.SurfaceLimit)
			fmt.Printf("  Prompt Share:  %.2f\n", cfg.Memory.PromptShare)
			fmt.Println()

			fmt.Println("Segments:")
			fmt.Printf("  Idle Minutes: %d\n", cfg.Segments.IdleMinutes)
			fmt.Println()

			fmt.Println("Firehose:")
			fmt.Printf("  Enabled: %v\n", cfg.Firehose.Enabled)
			fmt.Printf("  Path:    %s\n", cfg.Firehose.Path)
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  MIRA_SERVER_HOST, MIRA_SERVER_PORT, MIRA_CORS_ORIGINS")
			fmt.Println("  MIRA_POSTGRES_URL")
			fmt.Println("  MIRA_VALKEY_ADDR, MIRA_VALKEY_PASSWORD, MIRA_VALKEY_DB")
			fmt.Println("  ANTHROPIC_API_KEY, MIRA_ANTHROPIC_BASE_URL")
			fmt.Println("  MIRA_GENERIC_URL, MIRA_GENERIC_API_KEY, MIRA_GENERIC_MODEL")
			fmt.Println("  MIRA_FAILOVER_URL, MIRA_FAILOVER_MODEL")
			fmt.Println("  MIRA_EMBEDDING_URL, MIRA_EMBEDDING_API_KEY, MIRA_EMBEDDING_DIMENSIONS")
			fmt.Println("  MIRA_MODEL, MIRA_UTILITY_MODEL, MIRA_MAX_TOKENS, MIRA_TEMPERATURE")
			fmt.Println("  MIRA_SURFACE_LIMIT, MIRA_SEGMENT_IDLE_MINUTES")
			fmt.Println("  MIRA_FIREHOSE, MIRA_FIREHOSE_PATH")

			return nil
		},
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Mira %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}
