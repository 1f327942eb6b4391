package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/diffsec/vectorcore/internal/collection"
	"github.com/diffsec/vectorcore/internal/ops"
	"github.com/diffsec/vectorcore/internal/payload"
	"github.com/diffsec/vectorcore/internal/pointid"
	"github.com/spf13/cobra"
)

var (
	upsertID      string
	upsertVector  string
	upsertPayload string
	upsertWait    bool
)

var upsertCmd = &cobra.Command{
	Use:   "upsert <dir>",
	Short: "Upsert a single point",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := pointid.Parse(upsertID)
		if err != nil {
			exitError("%v", err)
		}
		vec, err := parseVector(upsertVector)
		if err != nil {
			exitError("%v", err)
		}

		var p payload.Payload
		if upsertPayload != "" {
			if err := json.Unmarshal([]byte(upsertPayload), &p); err != nil {
				exitError("invalid --payload JSON: %v", err)
			}
		}

		c, err := collection.Open(args[0])
		if err != nil {
			exitError("%v", err)
		}
		defer c.Close()

		op := ops.NewUpsertPoints([]ops.PointStruct{{ID: id, Vector: vec, Payload: p}})
		res, err := c.UpdatePoints(op, upsertWait)
		if err != nil {
			exitError("%v", err)
		}

		if jsonOutput {
			if err := outputJSON(res); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
		} else {
			fmt.Printf("%s (operation %d)\n", res.Status, res.OperationID)
		}
	},
}

func init() {
	rootCmd.AddCommand(upsertCmd)
	upsertCmd.Flags().StringVar(&upsertID, "id", "", "point id, decimal or UUID (required)")
	upsertCmd.Flags().StringVar(&upsertVector, "vector", "", "comma-separated vector components (required)")
	upsertCmd.Flags().StringVar(&upsertPayload, "payload", "", "JSON object payload")
	upsertCmd.Flags().BoolVar(&upsertWait, "wait", true, "wait for the write to be applied before returning")
	upsertCmd.MarkFlagRequired("id")
	upsertCmd.MarkFlagRequired("vector")
}
