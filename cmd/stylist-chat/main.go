// Package main is a terminal client that drives one stylist session in
// process, and mints development tokens for the HTTP API.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/stylist-engine/internal/config"
	"github.com/capitalize-ai/stylist-engine/internal/middleware"
)

var (
	cfg *config.Config

	userID      string
	tenantID    string
	profilesArg string
	catalogArg  string
	verbose     bool
	tokenTTL    time.Duration
	tokenScopes []string
)

var rootCmd = &cobra.Command{
	Use:   "stylist-chat",
	Short: "Chat with the stylist engine from a terminal",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive styling conversation",
	Long: `Start an interactive styling conversation backed by the embedded catalog
and an in-memory thread log. LLM credentials are read from ANTHROPIC_API_KEY or
OPENAI_API_KEY.

Commands inside the chat:
  /new   - start a new conversation
  /state - show the conversation state
  exit   - quit`,
	RunE: runChat,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a signed API token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenTTL <= 0 {
			tokenTTL = cfg.JWTExpiration
		}
		token, err := middleware.IssueToken(cfg.JWTSecret, tenantID, userID, tokenTTL, tokenScopes...)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "demo-user", "User ID")
	rootCmd.PersistentFlags().StringVarP(&tenantID, "tenant", "t", "local", "Tenant ID")

	chatCmd.Flags().StringVar(&profilesArg, "profiles", "", "Profiles YAML file (default: PROFILES_FILE)")
	chatCmd.Flags().StringVar(&catalogArg, "catalog", "", "Catalog YAML file (default: CATALOG_FILE)")
	chatCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default: JWT_EXPIRATION)")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", nil, "Scopes to grant, e.g. "+middleware.ScopeAdmin)

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
