package main

import (
	"fmt"
	"os"

	"github.com/danmuck/edgerpc/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "svcctl: %v\n", err)
		os.Exit(1)
	}
}
