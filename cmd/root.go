package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "payments-reconciler",
	Short: "Stripe abandoned payment reconciler",
	Long:  "Finds abandoned Stripe payment and setup intents, cancels them and closes the storefront orders they belong to.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
