package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"inkwell/internal/config"
	"inkwell/internal/critic"
	"inkwell/internal/knowledge"
	"inkwell/internal/store"
)

var resetCritiques bool

// resetCmd clears persisted pipeline state
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the persisted knowledge graph",
	Long: `Deletes the persisted knowledge graph, the only deletion path the
graph has. With --critiques, the stored critique state is cleared too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(workspace)
		if err != nil {
			return err
		}
		blobs, err := store.NewSQLiteStore(filepath.Join(workspace, cfg.Store.DatabasePath))
		if err != nil {
			return fmt.Errorf("failed to open blob store: %w", err)
		}
		defer blobs.Close()

		engine := knowledge.NewEngine(nil, blobs, nil)
		if err := engine.Reset(); err != nil {
			return fmt.Errorf("failed to reset graph: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "knowledge graph cleared")

		if resetCritiques {
			if err := critic.ResetState(blobs); err != nil {
				return fmt.Errorf("failed to reset critique state: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "critique state cleared")
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetCritiques, "critiques", false, "also clear stored critique state")
}
