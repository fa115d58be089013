package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "realcars-payments",
	Short: "Order and payment reconciliation service",
	Long:  "Order lifecycle, gateway payment creation, and webhook reconciliation for the Real Cars raffle store.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
