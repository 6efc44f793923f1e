/*-------------------------------------------------------------------------
 *
 * budgets.go
 *    Budget, alert and cost commands for ledgerctl
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/cli/cmd/budgets.go
 *
 *-------------------------------------------------------------------------
 */

package cmd

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/neurondb/NeuronLedger/internal/cost"
)

var (
	budgetsCmd = &cobra.Command{
		Use:     "budgets",
		Aliases: []string{"budget"},
		Short:   "Manage spending budgets",
	}

	budgetListCmd = &cobra.Command{
		Use:   "list",
		Short: "List budgets with utilization",
		RunE:  listBudgets,
	}

	budgetShowCmd = &cobra.Command{
		Use:   "show [budget-id]",
		Short: "Show a budget",
		Args:  cobra.ExactArgs(1),
		RunE:  showBudget,
	}

	budgetCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a budget for one tenant, user or project",
		RunE:  createBudget,
	}

	budgetDeactivateCmd = &cobra.Command{
		Use:   "deactivate [budget-id]",
		Short: "Stop charging and alerting on a budget",
		Args:  cobra.ExactArgs(1),
		RunE:  deactivateBudget,
	}

	alertsCmd = &cobra.Command{
		Use:   "alerts",
		Short: "List and acknowledge budget alerts",
	}

	alertListCmd = &cobra.Command{
		Use:   "list",
		Short: "List budget alerts",
		RunE:  listAlerts,
	}

	alertAckCmd = &cobra.Command{
		Use:   "ack [alert-id]",
		Short: "Acknowledge an alert",
		Args:  cobra.ExactArgs(1),
		RunE:  ackAlert,
	}

	costsCmd = &cobra.Command{
		Use:   "costs",
		Short: "Report execution costs",
	}

	costSummaryCmd = &cobra.Command{
		Use:   "summary",
		Short: "Aggregate cost by agent, project, workflow, user, day or model",
		RunE:  costSummary,
	}

	costExecutionCmd = &cobra.Command{
		Use:   "execution [task-id]",
		Short: "Show the recorded cost of one task",
		Args:  cobra.ExactArgs(1),
		RunE:  showExecution,
	}

	budgetActiveOnly bool
	budgetTenant     string
	budgetUser       string
	budgetProject    string
	budgetType       string
	budgetAmount     string
	budgetWarnPct    string
	budgetCritPct    string

	alertBudgetID  string
	alertOpenOnly  bool
	alertAckBy     string
	summaryGroupBy string
	summaryFrom    string
	summaryTo      string
)

func init() {
	budgetListCmd.Flags().BoolVar(&budgetActiveOnly, "active", false, "Only active budgets")

	budgetCreateCmd.Flags().StringVar(&budgetTenant, "for-tenant", "", "Tenant scope")
	budgetCreateCmd.Flags().StringVar(&budgetUser, "for-user", "", "User scope")
	budgetCreateCmd.Flags().StringVar(&budgetProject, "project", "", "Project scope")
	budgetCreateCmd.Flags().StringVar(&budgetType, "type", "monthly", "Period (daily, weekly, monthly, total)")
	budgetCreateCmd.Flags().StringVar(&budgetAmount, "amount", "", "Budget amount in USD")
	budgetCreateCmd.Flags().StringVar(&budgetWarnPct, "warn-pct", "", "Warning threshold percent (default 80)")
	budgetCreateCmd.Flags().StringVar(&budgetCritPct, "critical-pct", "", "Critical threshold percent (default 95)")
	budgetCreateCmd.MarkFlagRequired("amount")

	alertListCmd.Flags().StringVar(&alertBudgetID, "budget", "", "Only alerts for this budget")
	alertListCmd.Flags().BoolVar(&alertOpenOnly, "open", false, "Only unacknowledged alerts")
	alertListCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of results")
	alertAckCmd.Flags().StringVar(&alertAckBy, "by", "", "Acknowledger, when the token carries no user")

	costSummaryCmd.Flags().StringVar(&summaryGroupBy, "group-by", "agent", "Grouping (agent, project, workflow, user, day, model)")
	costSummaryCmd.Flags().StringVar(&summaryFrom, "from", "", "Start (RFC 3339 or YYYY-MM-DD)")
	costSummaryCmd.Flags().StringVar(&summaryTo, "to", "", "End, exclusive (RFC 3339 or YYYY-MM-DD)")

	budgetsCmd.AddCommand(budgetListCmd, budgetShowCmd, budgetCreateCmd, budgetDeactivateCmd)
	alertsCmd.AddCommand(alertListCmd, alertAckCmd)
	costsCmd.AddCommand(costSummaryCmd, costExecutionCmd)
}

func listBudgets(cmd *cobra.Command, args []string) error {
	budgets, err := newClient().ListBudgets(budgetActiveOnly)
	if err != nil {
		return fmt.Errorf("failed to list budgets: %w", err)
	}
	return render(budgets, func() {
		if len(budgets) == 0 {
			fmt.Println("No budgets found")
			return
		}
		for i := range budgets {
			printBudgetLine(&budgets[i])
		}
	})
}

func showBudget(cmd *cobra.Command, args []string) error {
	b, err := newClient().GetBudget(args[0])
	if err != nil {
		return fmt.Errorf("failed to get budget: %w", err)
	}
	return render(b, func() {
		printBudgetLine(b)
		fmt.Printf("    thresholds: warning %s%%, critical %s%%\n", b.AlertThresholdPct, b.CriticalThresholdPct)
		end := "open"
		if b.PeriodEnd != nil {
			end = b.PeriodEnd.Format("2006-01-02 15:04")
		}
		fmt.Printf("    period: %s to %s\n", b.PeriodStart.Format("2006-01-02 15:04"), end)
	})
}

func createBudget(cmd *cobra.Command, args []string) error {
	amount, err := decimal.NewFromString(budgetAmount)
	if err != nil {
		return fmt.Errorf("invalid --amount '%s': %w", budgetAmount, err)
	}
	in := cost.CreateBudgetInput{
		BudgetType:      budgetType,
		BudgetAmountUSD: amount,
		TenantID:        optional(budgetTenant),
		UserID:          optional(budgetUser),
		ProjectID:       optional(budgetProject),
	}
	if in.AlertThresholdPct, err = optionalDecimal("warn-pct", budgetWarnPct); err != nil {
		return err
	}
	if in.CriticalThresholdPct, err = optionalDecimal("critical-pct", budgetCritPct); err != nil {
		return err
	}

	b, err := newClient().CreateBudget(in)
	if err != nil {
		return fmt.Errorf("failed to create budget: %w", err)
	}
	return render(b, func() {
		fmt.Println("Budget created:")
		printBudgetLine(b)
	})
}

func deactivateBudget(cmd *cobra.Command, args []string) error {
	if err := newClient().DeactivateBudget(args[0]); err != nil {
		return fmt.Errorf("failed to deactivate budget: %w", err)
	}
	fmt.Printf("Budget %s deactivated\n", args[0])
	return nil
}

func listAlerts(cmd *cobra.Command, args []string) error {
	alerts, err := newClient().ListAlerts(alertBudgetID, alertOpenOnly, listLimit)
	if err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}
	return render(alerts, func() {
		if len(alerts) == 0 {
			fmt.Println("No alerts found")
			return
		}
		for _, a := range alerts {
			ack := " "
			if a.IsAcknowledged {
				ack = "✓"
			}
			fmt.Printf("  %s %-36s %-8s %s  %s\n", ack, a.ID, a.AlertType, a.CreatedAt.Format("2006-01-02 15:04"), a.Message)
		}
	})
}

func ackAlert(cmd *cobra.Command, args []string) error {
	a, err := newClient().AcknowledgeAlert(args[0], alertAckBy)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	return render(a, func() {
		fmt.Printf("Alert %s acknowledged by %s\n", a.ID, orDash(a.AcknowledgedBy))
	})
}

func costSummary(cmd *cobra.Command, args []string) error {
	s, err := newClient().CostSummary(summaryGroupBy, summaryFrom, summaryTo)
	if err != nil {
		return fmt.Errorf("failed to get cost summary: %w", err)
	}
	return render(s, func() {
		fmt.Printf("\nCost by %s\n", s.GroupBy)
		fmt.Println("─────────────────────────────────────────────────────────")
		for _, g := range s.Groups {
			fmt.Printf("  %-30s %8d runs  %10d tokens  $%s\n",
				g.GroupKey, g.ExecutionCount, g.InputTokens+g.OutputTokens, g.TotalCostUSD.StringFixed(4))
		}
		fmt.Println("─────────────────────────────────────────────────────────")
		fmt.Printf("  %-30s %8d runs  %10d tokens  $%s\n\n",
			"total", s.ExecutionCount, s.InputTokens+s.OutputTokens, s.TotalCostUSD.StringFixed(4))
	})
}

func showExecution(cmd *cobra.Command, args []string) error {
	rec, err := newClient().GetExecution(args[0])
	if err != nil {
		return fmt.Errorf("failed to get execution: %w", err)
	}
	return render(rec, func() {
		fmt.Printf("Task:    %s (%s)\n", rec.TaskID, rec.Status)
		fmt.Printf("Agent:   %s\n", rec.AgentName)
		fmt.Printf("Model:   %s/%s\n", rec.ModelProvider, rec.ModelName)
		fmt.Printf("Tokens:  %d in, %d out\n", rec.InputTokens, rec.OutputTokens)
		fmt.Printf("Cost:    $%s\n", rec.CostUSD.String())
	})
}

func printBudgetLine(b *cost.BudgetView) {
	owner := orDash(b.TenantID)
	switch b.Scope {
	case "user":
		owner = orDash(b.UserID)
	case "project":
		owner = orDash(b.ProjectID)
	}
	state := ""
	if !b.IsActive {
		state = " (inactive)"
	}
	fmt.Printf("  %-36s %-7s %-20s %-7s $%s / $%s (%s%%)%s\n", b.ID, b.Scope, owner, b.BudgetType,
		b.CurrentSpendUSD.StringFixed(4), b.BudgetAmountUSD.StringFixed(2), b.UtilizationPct, state)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalDecimal(flag, raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s '%s': %w", flag, raw, err)
	}
	return &d, nil
}
