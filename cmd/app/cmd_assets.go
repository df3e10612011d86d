package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"PegWatch/internal/registry"
)

var assetsFormat string

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "List registered assets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := registry.LoadFile(cfg.Registry.Path)
		if err != nil {
			return err
		}
		assets := reg.Assets()
		if assetsFormat == "json" {
			return writeJSON(cmd.OutOrStdout(), assets)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SYMBOL\tNAME\tKIND\tPEG\tTARGET\tDEFAULT CHAIN")
		for _, a := range assets {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%g\t%s\n", a.Symbol, a.Name, a.Kind, a.PegCurrency, a.TargetPrice, a.DefaultChain)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(assetsCmd)
	assetsCmd.Flags().StringVar(&assetsFormat, "format", "table", "output format (table|json)")
}
