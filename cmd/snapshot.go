package cmd

import (
	"fmt"

	"github.com/diffsec/vectorcore/internal/collection"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <dir>",
	Short: "Flush every shard's vector store and graph and compact its WAL",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := collection.Open(args[0])
		if err != nil {
			exitError("%v", err)
		}
		defer c.Close()

		if err := c.Snapshot(); err != nil {
			exitError("%v", err)
		}

		if jsonOutput {
			if err := outputJSON(map[string]interface{}{"path": args[0], "status": "snapshotted"}); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
			return
		}
		fmt.Printf("Snapshotted collection at %s\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
