package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tarun-kavipurapu/linkchat/pkg/config"
	"tarun-kavipurapu/linkchat/pkg/discovery"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Browse the local network for peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cfg.Service()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ScanTimeout)
		defer cancel()

		peers, err := discovery.NewScanner(svc).Start(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Scanning for %s (%s)...\n", svc.Name, cfg.ScanTimeout)

		found := 0
		for p := range peers {
			found++
			fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %s\n", p.DisplayName(), p.Address)
		}
		if found == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No peers found.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Duration("timeout", 0, "How long to browse (default from config)")
	bindFlag(scanCmd, config.KeyScanTimeout, "timeout")
}
