package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "aurora",
	Short: "Aurora - battery cycling experiment pipeline",
	Long: `Aurora validates cycling protocols, packages them into deterministic
jobs, runs them on an execution backend, and classifies the output
against reference runs.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	apiToken   string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7163", "API server address")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("AURORA_API_TOKEN"), "API bearer token")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(sampleCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(statesCmd)
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(tuiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
