/*-------------------------------------------------------------------------
 *
 * webhooks.go
 *    Webhook management commands for ledgerctl
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/cli/cmd/webhooks.go
 *
 *-------------------------------------------------------------------------
 */

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neurondb/NeuronLedger/cli/pkg/config"
	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/neurondb/NeuronLedger/internal/webhooks"
)

var (
	webhooksCmd = &cobra.Command{
		Use:     "webhooks",
		Aliases: []string{"webhook", "wh"},
		Short:   "Manage webhooks",
	}

	webhookListCmd = &cobra.Command{
		Use:   "list",
		Short: "List webhooks",
		RunE:  listWebhooks,
	}

	webhookShowCmd = &cobra.Command{
		Use:   "show [webhook-id]",
		Short: "Show a webhook",
		Args:  cobra.ExactArgs(1),
		RunE:  showWebhook,
	}

	webhookCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Register a webhook from flags or a definition file",
		RunE:  createWebhook,
	}

	webhookUpdateCmd = &cobra.Command{
		Use:   "update [webhook-id]",
		Short: "Update a webhook from a definition file",
		Args:  cobra.ExactArgs(1),
		RunE:  updateWebhook,
	}

	webhookDeleteCmd = &cobra.Command{
		Use:   "delete [webhook-id]",
		Short: "Delete a webhook and its delivery history",
		Args:  cobra.ExactArgs(1),
		RunE:  deleteWebhook,
	}

	webhookRotateCmd = &cobra.Command{
		Use:   "rotate-secret [webhook-id]",
		Short: "Replace a webhook's signing secret",
		Args:  cobra.ExactArgs(1),
		RunE:  rotateWebhookSecret,
	}

	webhookHealthCmd = &cobra.Command{
		Use:   "health [webhook-id]",
		Short: "Show delivery health for a webhook",
		Args:  cobra.ExactArgs(1),
		RunE:  webhookHealth,
	}

	webhookDeliveriesCmd = &cobra.Command{
		Use:   "deliveries [webhook-id]",
		Short: "List recent deliveries for a webhook",
		Args:  cobra.ExactArgs(1),
		RunE:  listWebhookDeliveries,
	}

	webhookRedeliverCmd = &cobra.Command{
		Use:   "redeliver [webhook-id] [delivery-id]",
		Short: "Queue a delivery for another attempt",
		Args:  cobra.ExactArgs(2),
		RunE:  redeliverWebhook,
	}

	webhookFile     string
	webhookName     string
	webhookURL      string
	webhookEvents   []string
	webhookProject  string
	webhookWorkflow string
	deliveryStatus  string
	listLimit       int
)

func init() {
	webhookCreateCmd.Flags().StringVarP(&webhookFile, "file", "f", "", "Path to webhook definition (YAML)")
	webhookCreateCmd.Flags().StringVar(&webhookName, "name", "", "Webhook name")
	webhookCreateCmd.Flags().StringVar(&webhookURL, "endpoint", "", "Delivery URL")
	webhookCreateCmd.Flags().StringSliceVar(&webhookEvents, "events", nil, "Event types to subscribe to")
	webhookCreateCmd.Flags().StringVar(&webhookProject, "project", "", "Only deliver events for this project")
	webhookCreateCmd.Flags().StringVar(&webhookWorkflow, "workflow", "", "Only deliver events for this workflow")

	webhookUpdateCmd.Flags().StringVarP(&webhookFile, "file", "f", "", "Path to webhook definition (YAML)")
	webhookUpdateCmd.MarkFlagRequired("file")

	webhookListCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of results")
	webhookDeliveriesCmd.Flags().StringVar(&deliveryStatus, "status", "", "Filter by status (pending, retrying, delivered, failed)")
	webhookDeliveriesCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of results")

	webhooksCmd.AddCommand(webhookListCmd, webhookShowCmd, webhookCreateCmd, webhookUpdateCmd,
		webhookDeleteCmd, webhookRotateCmd, webhookHealthCmd, webhookDeliveriesCmd, webhookRedeliverCmd)
}

func listWebhooks(cmd *cobra.Command, args []string) error {
	list, err := newClient().ListWebhooks(listLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list webhooks: %w", err)
	}
	return render(list, func() {
		if len(list.Webhooks) == 0 {
			fmt.Println("No webhooks found")
			return
		}
		for _, w := range list.Webhooks {
			state := "active"
			if !w.IsActive {
				state = "inactive"
			}
			fmt.Printf("  %-36s %-24s %-8s %s\n", w.ID, w.Name, state, w.URL)
			fmt.Printf("    events: %s\n", strings.Join(w.Events, ", "))
		}
		fmt.Printf("\n%d of %d webhooks\n", len(list.Webhooks), list.Total)
	})
}

func showWebhook(cmd *cobra.Command, args []string) error {
	w, err := newClient().GetWebhook(args[0])
	if err != nil {
		return fmt.Errorf("failed to get webhook: %w", err)
	}
	return render(w, func() { printWebhook(w) })
}

func createWebhook(cmd *cobra.Command, args []string) error {
	var in webhooks.CreateWebhookInput
	if webhookFile != "" {
		f, err := config.LoadWebhookFile(webhookFile)
		if err != nil {
			return err
		}
		in = f.CreateInput()
	} else {
		if webhookName == "" || webhookURL == "" || len(webhookEvents) == 0 {
			return fmt.Errorf("either --file or --name, --endpoint and --events are required")
		}
		in = webhooks.CreateWebhookInput{Name: webhookName, URL: webhookURL, Events: webhookEvents}
		if webhookProject != "" {
			in.ProjectFilter = &webhookProject
		}
		if webhookWorkflow != "" {
			in.WorkflowFilter = &webhookWorkflow
		}
	}

	created, err := newClient().CreateWebhook(in)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return render(created, func() {
		printWebhook(&created.Webhook)
		fmt.Printf("Secret: %s\n", created.Secret)
		fmt.Println("Store the secret now; it is not shown again.")
	})
}

func updateWebhook(cmd *cobra.Command, args []string) error {
	f, err := config.LoadWebhookFile(webhookFile)
	if err != nil {
		return err
	}
	w, err := newClient().UpdateWebhook(args[0], f.UpdateInput())
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return render(w, func() { printWebhook(w) })
}

func deleteWebhook(cmd *cobra.Command, args []string) error {
	if err := newClient().DeleteWebhook(args[0]); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	fmt.Printf("Webhook %s deleted\n", args[0])
	return nil
}

func rotateWebhookSecret(cmd *cobra.Command, args []string) error {
	secret, err := newClient().RegenerateWebhookSecret(args[0])
	if err != nil {
		return fmt.Errorf("failed to rotate secret: %w", err)
	}
	return render(map[string]string{"id": args[0], "secret": secret}, func() {
		fmt.Printf("New secret: %s\n", secret)
	})
}

func webhookHealth(cmd *cobra.Command, args []string) error {
	h, err := newClient().GetWebhookHealth(args[0])
	if err != nil {
		return fmt.Errorf("failed to get webhook health: %w", err)
	}
	return render(h, func() {
		fmt.Printf("Webhook:        %s (%s)\n", h.Name, h.WebhookID)
		fmt.Printf("Active:         %t\n", h.IsActive)
		fmt.Printf("Deliveries:     %d total, %d ok, %d failed\n", h.TotalDeliveries, h.SuccessfulDeliveries, h.FailedDeliveries)
		fmt.Printf("Success rate:   %.1f%%\n", h.SuccessRate)
		fmt.Printf("Queue:          %d pending, %d retrying\n", h.PendingCount, h.RetryingCount)
		fmt.Printf("Recent failed:  %d since %s\n", h.RecentFailedCount, h.WindowStart.Format("2006-01-02 15:04"))
	})
}

func listWebhookDeliveries(cmd *cobra.Command, args []string) error {
	deliveries, err := newClient().ListDeliveries(args[0], deliveryStatus, listLimit)
	if err != nil {
		return fmt.Errorf("failed to list deliveries: %w", err)
	}
	return render(deliveries, func() {
		if len(deliveries) == 0 {
			fmt.Println("No deliveries found")
			return
		}
		for _, d := range deliveries {
			code := "-"
			if d.HTTPStatusCode != nil {
				code = fmt.Sprint(*d.HTTPStatusCode)
			}
			fmt.Printf("  %-36s %-22s %-9s %d/%d  http=%s  %s\n",
				d.ID, d.EventType, d.Status, d.Attempts, d.MaxAttempts, code, orDash(d.ErrorMessage))
		}
	})
}

func redeliverWebhook(cmd *cobra.Command, args []string) error {
	d, err := newClient().Redeliver(args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to redeliver: %w", err)
	}
	return render(d, func() {
		fmt.Printf("Delivery %s queued (%s, attempt %d of %d)\n", d.ID, d.Status, d.Attempts+1, d.MaxAttempts)
	})
}

func printWebhook(w *db.Webhook) {
	fmt.Printf("\nWebhook: %s\n", w.Name)
	fmt.Println("─────────────────────────────────────────────────────────")
	fmt.Printf("ID:        %s\n", w.ID)
	fmt.Printf("URL:       %s\n", w.URL)
	fmt.Printf("Events:    %s\n", strings.Join(w.Events, ", "))
	fmt.Printf("Project:   %s\n", orDash(w.ProjectFilter))
	fmt.Printf("Workflow:  %s\n", orDash(w.WorkflowFilter))
	fmt.Printf("Retries:   %d, base delay %ds, timeout %ds\n", w.MaxRetries, w.RetryDelaySeconds, w.TimeoutSeconds)
	fmt.Printf("Active:    %t\n", w.IsActive)
}
