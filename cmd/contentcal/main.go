package main

import (
	"os"

	appLog "contentcal/internal/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		appLog.Error("contentcal failed", err)
		os.Exit(1)
	}
}
