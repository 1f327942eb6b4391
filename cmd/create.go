package cmd

import (
	"fmt"

	"github.com/diffsec/vectorcore/internal/collection"
	"github.com/diffsec/vectorcore/internal/collectionconfig"
	"github.com/spf13/cobra"
)

var (
	createDim         int
	createDistance    string
	createShards      int
	createM           int
	createEfConstruct int
	createEfSearch    int
	createNoHeuristic bool
	createSeed        uint64
)

var createCmd = &cobra.Command{
	Use:   "create <dir>",
	Short: "Create a new collection directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := collectionconfig.Config{
			Dim:        createDim,
			Distance:   createDistance,
			ShardCount: createShards,
			HNSW: collectionconfig.HNSWConfig{
				M:            createM,
				EfConstruct:  createEfConstruct,
				EfSearch:     createEfSearch,
				UseHeuristic: !createNoHeuristic,
			},
			RandomSeed: createSeed,
		}

		c, err := collection.Create(args[0], cfg)
		if err != nil {
			exitError("%v", err)
		}
		defer c.Close()

		if jsonOutput {
			if err := outputJSON(map[string]interface{}{"path": args[0], "config": cfg}); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
		} else {
			fmt.Printf("Created collection at %s (dim=%d, distance=%s, shards=%d)\n",
				args[0], cfg.Dim, cfg.Distance, cfg.ShardCount)
		}
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().IntVar(&createDim, "dim", 0, "vector dimension (required)")
	createCmd.Flags().StringVar(&createDistance, "distance", "Dot", "distance metric: Euclid, Dot, or Cosine")
	createCmd.Flags().IntVar(&createShards, "shards", 1, "shard count")
	createCmd.Flags().IntVar(&createM, "m", collectionconfig.DefaultHNSWConfig().M, "HNSW degree parameter M")
	createCmd.Flags().IntVar(&createEfConstruct, "ef-construct", collectionconfig.DefaultHNSWConfig().EfConstruct, "HNSW construction beam width")
	createCmd.Flags().IntVar(&createEfSearch, "ef-search", collectionconfig.DefaultHNSWConfig().EfSearch, "HNSW search beam width")
	createCmd.Flags().BoolVar(&createNoHeuristic, "no-heuristic", false, "use plain nearest-M neighbour selection instead of the Malkov-Yashunin heuristic")
	createCmd.Flags().Uint64Var(&createSeed, "seed", 0, "base random seed for level assignment")
	createCmd.MarkFlagRequired("dim")
}
