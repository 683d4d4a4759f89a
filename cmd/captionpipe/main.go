package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Load API keys from a local .env when present.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
