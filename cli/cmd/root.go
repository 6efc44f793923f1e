/*-------------------------------------------------------------------------
 *
 * root.go
 *    Root command and global flags for ledgerctl
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/cli/cmd/root.go
 *
 *-------------------------------------------------------------------------
 */

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neurondb/NeuronLedger/cli/pkg/client"
)

var (
	apiURL       string
	apiToken     string
	tenantID     string
	userID       string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "ledgerctl - manage NeuronLedger budgets, webhooks and events",
	Long: `ledgerctl talks to a NeuronLedger server.

Authentication uses a bearer token (--token or NEURONLEDGER_TOKEN). Against a
server in header auth mode, pass --tenant and --user instead.

Examples:
  # Register a webhook from a definition file
  ledgerctl webhooks create -f alerts-webhook.yaml

  # Create a monthly project budget
  ledgerctl budgets create --project proj-A --type monthly --amount 250

  # Show spend by model for this month
  ledgerctl costs summary --group-by model --from 2026-10-01

  # Watch budget events as they happen
  ledgerctl events stream --type budget.warning,budget.exceeded

  # Issue a token for local testing
  ledgerctl token --secret $JWT_SECRET --for-tenant acme --for-user ops
`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "url", getEnvOrDefault("NEURONLEDGER_URL", "http://localhost:8090"), "NeuronLedger API URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", getEnvOrDefault("NEURONLEDGER_TOKEN", ""), "Bearer token")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", getEnvOrDefault("NEURONLEDGER_TENANT", ""), "Tenant ID (header auth mode)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", getEnvOrDefault("NEURONLEDGER_USER", ""), "User ID (header auth mode)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format (text, json)")

	rootCmd.AddCommand(webhooksCmd)
	rootCmd.AddCommand(budgetsCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(costsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(pricingCmd)
	rootCmd.AddCommand(tokenCmd)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newClient() *client.Client {
	return client.NewClient(apiURL, apiToken).WithTenant(tenantID, userID)
}

/* render prints v as JSON when --format json, otherwise calls text */
func render(v interface{}, text func()) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text", "":
		text()
		return nil
	default:
		return fmt.Errorf("unsupported output format '%s', allowed: text, json", outputFormat)
	}
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
