package cmd

import (
	"fmt"

	"github.com/diffsec/vectorcore/internal/collection"
	"github.com/spf13/cobra"
)

var (
	searchVector   string
	searchTop      int
	searchEf       int
	searchPositive string
	searchNegative string
)

var searchCmd = &cobra.Command{
	Use:   "search <dir>",
	Short: "Search for the nearest points to a query vector",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := collection.Open(args[0])
		if err != nil {
			exitError("%v", err)
		}
		defer c.Close()

		var results []interface{}
		if searchVector != "" {
			vec, err := parseVector(searchVector)
			if err != nil {
				exitError("%v", err)
			}
			hits, err := c.Search(vec, nil, searchTop, searchEf)
			if err != nil {
				exitError("%v", err)
			}
			for _, h := range hits {
				results = append(results, h)
			}
		} else if searchPositive != "" {
			pos, err := parseIDList(searchPositive)
			if err != nil {
				exitError("%v", err)
			}
			neg, err := parseIDList(searchNegative)
			if err != nil {
				exitError("%v", err)
			}
			hits, err := c.Recommend(pos, neg, nil, searchTop, searchEf)
			if err != nil {
				exitError("%v", err)
			}
			for _, h := range hits {
				results = append(results, h)
			}
		} else {
			exitError("one of --vector or --positive is required")
		}

		if jsonOutput {
			if err := outputJSON(results); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
			return
		}
		for _, r := range results {
			fmt.Printf("%v\n", r)
		}
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVar(&searchVector, "vector", "", "comma-separated query vector components")
	searchCmd.Flags().StringVar(&searchPositive, "positive", "", "comma-separated point ids to recommend towards")
	searchCmd.Flags().StringVar(&searchNegative, "negative", "", "comma-separated point ids to recommend away from")
	searchCmd.Flags().IntVar(&searchTop, "top", 10, "number of results to return")
	searchCmd.Flags().IntVar(&searchEf, "ef", 0, "search beam width override, 0 uses the collection default")
}
