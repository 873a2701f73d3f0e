package main

import (
	"os"

	"github.com/isdelr/clinicops/internal/cmd"
	"github.com/isdelr/clinicops/internal/opserr"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(opserr.ExitCode(err))
	}
}
