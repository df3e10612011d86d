package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"PegWatch/internal/di"
	"PegWatch/internal/domain/models"
	"PegWatch/pkg/util"
)

var (
	checkChain  string
	checkFormat string
)

var checkCmd = &cobra.Command{
	Use:   "check SYMBOL...",
	Short: "Run a one-shot health check",
	Long: `Fetch prices once and print a health report per symbol.

Examples:
  pegwatch check USDT
  pegwatch check usdc,dai --chain ethereum --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkChain, "chain", "", "chain to check (asset default when empty)")
	checkCmd.Flags().StringVar(&checkFormat, "format", "table", "output format (table|json)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkFormat != "table" && checkFormat != "json" {
		return fmt.Errorf("unknown format %q", checkFormat)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Close(ctx)
	}()

	var symbols []string
	for _, a := range args {
		symbols = append(symbols, util.SplitSymbols(a)...)
	}

	reports := app.Monitor().GetMultipleHealth(cmd.Context(), symbols, checkChain)
	if len(reports) == 0 {
		return fmt.Errorf("no reports produced for %v", symbols)
	}
	if checkFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), reports)
	}
	return writeReportTable(cmd.OutOrStdout(), reports)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeReportTable(w io.Writer, reports []models.HealthReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tCHAIN\tPRICE\tDEVIATION\tSCORE\tLEVEL\tSTATUS")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%.6f\t%.3f%%\t%d\t%s\t%s\n",
			r.Symbol, r.Chain, r.Price, r.Deviation, r.RiskScore, r.RiskLevel, r.Status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range reports {
		for _, alert := range r.Alerts {
			fmt.Fprintf(w, "%s: %s\n", r.Symbol, alert)
		}
	}
	return nil
}
