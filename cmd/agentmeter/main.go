// Package main is the entry point for agentmeter, a usage metering
// service for AI agent deployments. Agents report usage events over
// HTTP with an API key; agentmeter classifies them, assigns costs,
// and serves live-updating dashboard aggregates.
package main

import (
	"github.com/joho/godotenv"
)

func main() {
	// Best effort: a missing .env is not an error.
	_ = godotenv.Load()

	Execute()
}
