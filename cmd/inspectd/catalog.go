package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/services"
	"github.com/spf13/cobra"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage device base prices and pricing rules",
		Long: `Edit the price catalog directly in the database.

A running server picks up rule changes made here on its next start; use the
HTTP API to change rules without a restart.`,
	}
	cmd.AddCommand(addDeviceCmd())
	cmd.AddCommand(addRuleCmd())
	cmd.AddCommand(listDevicesCmd())
	cmd.AddCommand(listRulesCmd())
	return cmd
}

func withCatalog(cmd *cobra.Command, fn func(*services.CatalogService) error) error {
	repo, err := openRepository(cmd.Context(), rt)
	if err != nil {
		return err
	}
	defer repo.Close()

	engine := services.NewValuationEngine(logger, repo)
	return fn(services.NewCatalogService(logger, repo, engine))
}

func addDeviceCmd() *cobra.Command {
	var m domain.DeviceModel
	cmd := &cobra.Command{
		Use:     "add-device",
		Short:   "Add or replace the base price of a device configuration",
		Example: `  inspectd catalog add-device --brand Apple --model "iPhone 13" --storage 128GB --price 3700`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCatalog(cmd, func(svc *services.CatalogService) error {
				saved, err := svc.AddDeviceModel(cmd.Context(), m)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s: %.2f\n", saved.Brand, saved.Model, saved.StorageCapacity, saved.BasePrice)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&m.Brand, "brand", "", "device brand")
	cmd.Flags().StringVar(&m.Model, "model", "", "device model")
	cmd.Flags().StringVar(&m.StorageCapacity, "storage", "", "storage capacity, e.g. 128GB")
	cmd.Flags().Float64Var(&m.BasePrice, "price", 0, "base price in CNY")
	for _, f := range []string{"brand", "model", "storage", "price"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func addRuleCmd() *cobra.Command {
	var (
		r        domain.PricingRule
		target   string
		kind     string
		inactive bool
	)
	cmd := &cobra.Command{
		Use:   "add-rule",
		Short: "Add or replace a deduction rule",
		Example: `  inspectd catalog add-rule --target screen-issue --keywords burn-in,ghosting --value 400 --reason "screen burn-in"
  inspectd catalog add-rule --target battery-capacity --threshold 85 --value 12`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r.Target = domain.RuleTarget(target)
			r.Kind = domain.DeductionKind(strings.ToUpper(kind))
			r.Active = !inactive
			return withCatalog(cmd, func(svc *services.CatalogService) error {
				saved, err := svc.AddPricingRule(cmd.Context(), r)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rule %s saved\n", saved.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&r.ID, "id", "", "rule id; an existing id is replaced (default: generated)")
	cmd.Flags().IntVar(&r.Position, "position", 0, "evaluation order (default: after the last rule)")
	cmd.Flags().StringVar(&target, "target", "", "appearance-tier, appearance-issue, screen-issue, battery-capacity or camera-issue")
	cmd.Flags().StringVar(&r.Category, "category", "", "deduction category (default: derived from target)")
	cmd.Flags().StringVar(&r.Reason, "reason", "", "reason shown in the report")
	cmd.Flags().StringSliceVar(&r.Keywords, "keywords", nil, "comma-separated keywords matched case-insensitively")
	cmd.Flags().StringVar(&kind, "type", string(domain.DeductionAmount), "AMOUNT or PERCENTAGE")
	cmd.Flags().Float64Var(&r.Value, "value", 0, "deduction value")
	cmd.Flags().Float64Var(&r.Threshold, "threshold", 0, "battery capacity threshold in percent")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "store the rule disabled")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func listDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List device configurations with a catalog base price",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCatalog(cmd, func(svc *services.CatalogService) error {
				models, err := svc.ListDeviceModels(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "BRAND\tMODEL\tSTORAGE\tBASE PRICE\tACTIVE")
				for _, m := range models {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%t\n", m.Brand, m.Model, m.StorageCapacity, m.BasePrice, m.Active)
				}
				return tw.Flush()
			})
		},
	}
}

func listRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-rules",
		Short: "List pricing rules in evaluation order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCatalog(cmd, func(svc *services.CatalogService) error {
				rules, err := svc.ListPricingRules(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "POS\tID\tTARGET\tMATCH\tDEDUCTION\tACTIVE")
				for _, r := range rules {
					match := strings.Join(r.Keywords, ",")
					if r.Target == domain.TargetBatteryCapacity {
						match = fmt.Sprintf("< %.0f%%", r.Threshold)
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s %.2f\t%t\n", r.Position, r.ID, r.Target, match, r.Kind, r.Value, r.Active)
				}
				return tw.Flush()
			})
		},
	}
}

