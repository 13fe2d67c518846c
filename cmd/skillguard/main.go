// Package main is the entry point for the skillguard CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "skillguard",
	Short: "Alexa skill request verification",
	Long: `skillguard verifies that inbound Alexa skill requests were signed by the
Alexa service and are recent, either as a standalone gateway in front of a
skill backend or as a one-off check of a captured request.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
