package main

import (
	"os"

	_ "github.com/joho/godotenv/autoload"
)

// Build information injected via ldflags at build time.
var version = "dev"

func main() {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
