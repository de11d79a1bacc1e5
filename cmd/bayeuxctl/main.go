package main

import (
	"os"

	"github.com/sioux-io/gobayeux/cmd/bayeuxctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
