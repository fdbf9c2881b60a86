package main

import (
	"os"

	cliruntime "github.com/tomasbasham/cli-runtime"

	"github.com/pumpkinperf/pumpkin/internal/cmd"
)

func main() {
	command := cmd.NewRootCommand()
	if code := cliruntime.Run(command); code != 0 {
		os.Exit(code)
	}
}
