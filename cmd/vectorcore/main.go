// Command vectorcore is a local command-line driver for a sharded HNSW
// vector collection directory.
package main

import "github.com/diffsec/vectorcore/cmd"

func main() {
	cmd.Execute()
}
