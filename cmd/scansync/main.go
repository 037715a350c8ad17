package main

import (
	"fmt"
	"os"

	"github.com/cti/scanhub/internal/interfaces/cli"
)

func main() {
	if err := cli.NewScanSyncCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
