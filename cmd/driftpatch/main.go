package main

import (
	"os"

	"github.com/driftpatch/driftpatch/internal/cli/commands"
)

func main() {
	os.Exit(commands.Execute())
}
