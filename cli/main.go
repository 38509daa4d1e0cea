package main

import (
	"os"

	"github.com/kestrelsec/sysmonfleet/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
