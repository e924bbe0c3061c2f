package main

import (
	"os"

	"github.com/azrilxx/tradenestkgsb-sub002/cmd/intelctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
