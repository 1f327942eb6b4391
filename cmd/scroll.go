package cmd

import (
	"fmt"

	"github.com/diffsec/vectorcore/internal/collection"
	"github.com/diffsec/vectorcore/internal/pointid"
	"github.com/spf13/cobra"
)

var (
	scrollAfter string
	scrollLimit int
)

var scrollCmd = &cobra.Command{
	Use:   "scroll <dir>",
	Short: "Page through a collection's points in id order",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := collection.Open(args[0])
		if err != nil {
			exitError("%v", err)
		}
		defer c.Close()

		var after *pointid.ID
		if scrollAfter != "" {
			id, err := pointid.Parse(scrollAfter)
			if err != nil {
				exitError("%v", err)
			}
			after = &id
		}

		ids, next, err := c.Scroll(after, scrollLimit, nil)
		if err != nil {
			exitError("%v", err)
		}

		if jsonOutput {
			out := map[string]interface{}{"points": ids}
			if next != nil {
				out["next_page_offset"] = next.String()
			}
			if err := outputJSON(out); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
			return
		}
		for _, id := range ids {
			fmt.Println(id.String())
		}
		if next != nil {
			fmt.Printf("next: %s\n", next.String())
		}
	},
}

func init() {
	rootCmd.AddCommand(scrollCmd)
	scrollCmd.Flags().StringVar(&scrollAfter, "after", "", "resume scrolling after this point id")
	scrollCmd.Flags().IntVar(&scrollLimit, "limit", 100, "maximum number of points to return")
}
