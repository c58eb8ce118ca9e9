// Command insightkb is the entry point for the Insight KB enrichment
// service. It provides a CLI interface (via Cobra) and an HTTP server that
// exposes the retrieval-augmentation pipeline to host applications.
package main

import (
	"fmt"
	"os"

	"github.com/gugacoder/insight-kb-sub001/cmd/insightkb/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
