// Package main is the entry point for the adpilot CLI.
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/adpilot-ai/adpilot/internal/cli"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
