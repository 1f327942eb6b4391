package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/diffsec/vectorcore/internal/collection"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a collection's shards for out-of-band snapshot changes until interrupted",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := collection.Open(args[0])
		if err != nil {
			exitError("%v", err)
		}
		defer c.Close()

		w, err := c.WatchReload(func(shardIndex int) {
			fmt.Printf("shard %d: snapshot changed on disk\n", shardIndex)
		})
		if err != nil {
			exitError("%v", err)
		}
		defer w.Stop()

		fmt.Println("watching for out-of-band snapshot changes, press Ctrl+C to stop")
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
