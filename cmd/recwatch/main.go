package main

import (
	"fmt"
	"os"
	"time"

	"variantlab/pkg/recwatch"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
	Version = "0.0.0-dev"

	serverURL string
	token     string
)

var rootCmd = &cobra.Command{
	Use:   "recwatch",
	Short: "recwatch - follow session recordings from a variantlab server",
	Long: `recwatch polls a variantlab server for session recordings.

Commands:
  list [version]        Print the recording listing once
  get <sessionId>       Print one recording's summary
  watch [version]       Keep the listing on screen, refreshing on an interval

Environment:
  RECWATCH_SERVER       Server base URL (default http://localhost:3001)
  RECWATCH_TOKEN        Dashboard bearer token`,
	Version:      Version,
	SilenceUsage: true,
}

var listCmd = &cobra.Command{
	Use:   "list [version]",
	Short: "Print the recording listing",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

var getCmd = &cobra.Command{
	Use:   "get <sessionId>",
	Short: "Print one recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var watchCmd = &cobra.Command{
	Use:   "watch [version]",
	Short: "Follow the recording listing",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func init() {
	// Load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	defaultServer := os.Getenv("RECWATCH_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:3001"
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "variantlab server base URL")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("RECWATCH_TOKEN"), "dashboard bearer token")

	watchCmd.Flags().Duration("interval", recwatch.DefaultInterval, "refresh interval")
	watchCmd.Flags().String("session", "", "also follow one session in full")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(watchCmd)
}

func newClient() *recwatch.Client {
	return recwatch.NewClient(serverURL, recwatch.WithToken(token))
}

func versionArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}
