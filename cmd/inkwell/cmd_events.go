package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"inkwell/internal/diag"
)

var eventsLimit int

// eventsCmd shows recent pipeline diagnostic events
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent pipeline diagnostic events",
	Long: `Reads the event log written during 'inkwell run' and prints the most
recent entries, oldest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(workspace, ".inkwell", "logs", "events.jsonl")
		events, err := diag.ReadEvents(path, eventsLimit)
		if err != nil {
			return fmt.Errorf("failed to read event log: %w", err)
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no events recorded")
			return nil
		}
		for _, e := range events {
			ts := time.UnixMilli(e.Timestamp).Format("15:04:05.000")
			if len(e.Fields) > 0 {
				fields, _ := json.Marshal(e.Fields)
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %s\n", ts, e.Kind, fields)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", ts, e.Kind)
			}
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "max events to print")
}
