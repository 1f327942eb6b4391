// Package cmd implements the vectorcore command-line tool: a thin local
// driver over internal/collection for creating, writing to, and querying a
// collection directory without a network transport.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "vectorcore",
	Short: "Local driver for a sharded HNSW vector collection",
	Long: `vectorcore operates a collection directory directly, without a server:

  vectorcore create  <dir> --dim 4 --distance Dot --shards 2
  vectorcore upsert  <dir> --id 1 --vector 1,0,1,1
  vectorcore search  <dir> --vector 1,1,1,1 --top 3
  vectorcore scroll  <dir> --limit 10
  vectorcore snapshot <dir>
  vectorcore watch   <dir>

Each subcommand opens the collection, performs one operation, and closes it,
except watch, which runs until interrupted.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
}

func outputJSON(data interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
