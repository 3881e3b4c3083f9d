package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"inkwell/internal/config"
	"inkwell/internal/knowledge"
	"inkwell/internal/store"
)

var (
	graphTop         bool
	graphK           int
	graphMinStrength int
)

// graphCmd prints the persisted knowledge graph
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the knowledge graph as JSON",
	Long: `Prints the persisted full knowledge graph. With --top, prints the
filtered presentation view instead (top-k nodes by strength-gated
degree). The filter never modifies the stored graph.`,
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
		g := engine.Graph()
		if graphTop {
			k := graphK
			if k <= 0 {
				k = cfg.Knowledge.TopK
			}
			min := graphMinStrength
			if min <= 0 {
				min = cfg.Knowledge.MinStrength
			}
			g = knowledge.SelectTop(g, k, min)
		}

		out, err := json.MarshalIndent(g, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	graphCmd.Flags().BoolVar(&graphTop, "top", false, "print the filtered top-k view")
	graphCmd.Flags().IntVar(&graphK, "k", 0, "node budget for --top (default from config)")
	graphCmd.Flags().IntVar(&graphMinStrength, "min-strength", 0, "edge strength threshold for --top (default from config)")
}
