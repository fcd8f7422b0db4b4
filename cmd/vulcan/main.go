package main

import (
	"fmt"
	"os"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Erreur:", err)
		os.Exit(cli.ExitCode(err))
	}
}
