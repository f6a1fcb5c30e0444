// Eventrec - Event Similarity and Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventrec

// Command eventrecctl sends interactions to and queries a running eventrec
// server.
//
//	eventrecctl send --user 1 --event 2 --action like
//	eventrecctl send --user 1 --event 2 --action view --nats nats://localhost:4222
//	eventrecctl similar --event 1 --user 2 --max 10
//	eventrecctl predict --user 1 --max 10
//	eventrecctl counts 1 2 3
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "eventrecctl",
		Short: "Command-line client for the eventrec server",
		Long: `eventrecctl records user interactions with events and queries the
similarity and prediction endpoints of an eventrec server.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("server", envOr("EVENTREC_SERVER", "http://localhost:8080"), "eventrec server base URL")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "Request timeout")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newSendCmd(),
		newSimilarCmd(),
		newPredictCmd(),
		newCountsCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "eventrecctl version %s\n", version)
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// clientFromFlags builds an API client from the persistent flags.
func clientFromFlags(cmd *cobra.Command) *client {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return newClient(server, timeout)
}
