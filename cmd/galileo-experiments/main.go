package main

import (
	"os"

	"github.com/edgerun/galileo-experiments/cmd/galileo-experiments/cmd"
	"github.com/edgerun/galileo-experiments/internal/common"
)

// Config is handled by cmd/root.go
func main() {
	common.ConfigureCommandLineLogging()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
