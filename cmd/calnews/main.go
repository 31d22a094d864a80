package main

import (
	"os"

	appLog "calnews/internal/log"
)

// version is set at build time via ldflags.
var version = "0.1.0-dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		appLog.Error("calnews failed", err)
		os.Exit(1)
	}
}
