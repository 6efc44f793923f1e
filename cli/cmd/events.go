/*-------------------------------------------------------------------------
 *
 * events.go
 *    Event, pricing and token commands for ledgerctl
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/cli/cmd/events.go
 *
 *-------------------------------------------------------------------------
 */

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/neurondb/NeuronLedger/internal/api"
	"github.com/neurondb/NeuronLedger/internal/events"
)

var (
	eventsCmd = &cobra.Command{
		Use:     "events",
		Aliases: []string{"event"},
		Short:   "Inspect, publish and stream events",
	}

	eventListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the event log",
		RunE:  listEvents,
	}

	eventPublishCmd = &cobra.Command{
		Use:   "publish",
		Short: "Publish an event to matching webhooks",
		RunE:  publishEvent,
	}

	eventStreamCmd = &cobra.Command{
		Use:   "stream",
		Short: "Print events as they are published",
		RunE:  streamEvents,
	}

	eventTypesCmd = &cobra.Command{
		Use:   "types",
		Short: "List known event types",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range events.AllEventTypes() {
				fmt.Println(t)
			}
			return nil
		},
	}

	pricingCmd = &cobra.Command{
		Use:   "pricing",
		Short: "Show or reload the model pricing table",
	}

	pricingListCmd = &cobra.Command{
		Use:   "list",
		Short: "List model prices per 1M tokens",
		RunE:  listPricing,
	}

	pricingRefreshCmd = &cobra.Command{
		Use:   "refresh",
		Short: "Reload pricing from the database",
		RunE:  refreshPricing,
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue an HS256 token for a tenant and user",
		RunE:  issueToken,
	}

	eventType     string
	eventID       string
	eventData     string
	eventProject  string
	eventWorkflow string
	streamTypes   []string

	tokenSecret string
	tokenIssuer string
	tokenTenant string
	tokenUser   string
	tokenTTL    time.Duration
)

func init() {
	eventListCmd.Flags().StringVar(&eventType, "type", "", "Only this event type")
	eventListCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of results")

	eventPublishCmd.Flags().StringVar(&eventType, "type", "", "Event type")
	eventPublishCmd.Flags().StringVar(&eventID, "id", "", "Event ID (generated when empty)")
	eventPublishCmd.Flags().StringVar(&eventData, "data", "{}", "Event data as a JSON object")
	eventPublishCmd.Flags().StringVar(&eventProject, "project", "", "Project ID")
	eventPublishCmd.Flags().StringVar(&eventWorkflow, "workflow", "", "Workflow ID")
	eventPublishCmd.MarkFlagRequired("type")

	eventStreamCmd.Flags().StringSliceVar(&streamTypes, "type", nil, "Only these event types")

	tokenCmd.Flags().StringVar(&tokenSecret, "secret", getEnvOrDefault("JWT_SECRET", ""), "Signing secret")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", getEnvOrDefault("JWT_ISSUER", ""), "Issuer claim")
	tokenCmd.Flags().StringVar(&tokenTenant, "for-tenant", "", "Tenant ID claim")
	tokenCmd.Flags().StringVar(&tokenUser, "for-user", "", "User ID claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.MarkFlagRequired("for-tenant")

	eventsCmd.AddCommand(eventListCmd, eventPublishCmd, eventStreamCmd, eventTypesCmd)
	pricingCmd.AddCommand(pricingListCmd, pricingRefreshCmd)
}

func listEvents(cmd *cobra.Command, args []string) error {
	entries, err := newClient().ListEvents(eventType, listLimit)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	return render(entries, func() {
		if len(entries) == 0 {
			fmt.Println("No events found")
			return
		}
		for _, e := range entries {
			fmt.Printf("  %s  %-22s %-36s webhooks=%d\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"), e.EventType, e.EventID, e.WebhookCount)
		}
	})
}

func publishEvent(cmd *cobra.Command, args []string) error {
	et, err := events.ParseEventType(eventType)
	if err != nil {
		return err
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(eventData), &data); err != nil {
		return fmt.Errorf("invalid --data, expected a JSON object: %w", err)
	}
	req := events.PublishRequest{
		EventType:  et,
		EventID:    eventID,
		Source:     "ledgerctl",
		ProjectID:  optional(eventProject),
		WorkflowID: optional(eventWorkflow),
		Data:       data,
	}

	count, err := newClient().PublishEvent(req)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return render(map[string]interface{}{"event_type": et, "webhook_count": count}, func() {
		fmt.Printf("Published %s to %d webhook(s)\n", et, count)
	})
}

func streamEvents(cmd *cobra.Command, args []string) error {
	for _, t := range streamTypes {
		if _, err := events.ParseEventType(t); err != nil {
			return err
		}
	}

	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, os.Interrupt)
	defer signal.Stop(interrupted)

	fmt.Fprintln(os.Stderr, "Streaming events, Ctrl-C to stop")
	return newClient().StreamEvents(streamTypes, func(env events.Envelope) bool {
		select {
		case <-interrupted:
			return false
		default:
		}
		if outputFormat == "json" {
			raw, err := env.Canonical()
			if err == nil {
				fmt.Println(string(raw))
			}
			return true
		}
		fmt.Printf("%s  %-22s %-36s %s\n", env.Timestamp.Format("15:04:05"), env.EventType, env.EventID, env.Source)
		return true
	})
}

func listPricing(cmd *cobra.Command, args []string) error {
	prices, err := newClient().ListPricing()
	if err != nil {
		return fmt.Errorf("failed to list pricing: %w", err)
	}
	return render(prices, func() {
		fmt.Printf("  %-12s %-28s %12s %12s\n", "PROVIDER", "MODEL", "INPUT/1M", "OUTPUT/1M")
		for _, p := range prices {
			fmt.Printf("  %-12s %-28s %12s %12s\n", p.Provider, p.Model, "$"+p.InputPer1M.StringFixed(2), "$"+p.OutputPer1M.StringFixed(2))
		}
	})
}

func refreshPricing(cmd *cobra.Command, args []string) error {
	n, err := newClient().RefreshPricing()
	if err != nil {
		return fmt.Errorf("failed to refresh pricing: %w", err)
	}
	fmt.Printf("Pricing reloaded: %d models\n", n)
	return nil
}

func issueToken(cmd *cobra.Command, args []string) error {
	if tokenSecret == "" {
		return fmt.Errorf("--secret or JWT_SECRET is required")
	}
	token, err := api.GenerateToken(tokenSecret, tokenIssuer, tokenTenant, tokenUser, tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}
