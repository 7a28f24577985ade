package main

import (
	"github.com/joho/godotenv"

	"github.com/summarizer/summary-chat/internal/cli"
)

func main() {
	// .env is optional for the client
	_ = godotenv.Load()
	cli.Execute()
}
