// Command enginesim starts the StarShield engine simulator for local
// development. It serves the same command API and websocket event feed the
// real scan engine daemon exposes.
// Usage: go run ./cmd/enginesim [port]
// Default port: 8471
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/kversteeg/starshield/internal/enginesim"
	"github.com/kversteeg/starshield/internal/logging"
)

func main() {
	cfg := enginesim.DefaultConfig()

	// Optional: custom port from command line
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port < 1 || port > 65535 {
			log.Fatalf("Invalid port: %s", os.Args[1])
		}
		cfg.Port = port
	}

	fmt.Println("===========================================")
	fmt.Println("   StarShield Engine Simulator")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Println("This process stands in for the real scan engine daemon.")
	fmt.Println("It walks the configured scan roots to drive progress events,")
	fmt.Println("replays configured detections, and performs real file moves")
	fmt.Printf("in and out of the quarantine directory (%s).\n", cfg.QuarantineDir)
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Println("  POST /scan/full, /scan/quick")
	fmt.Println("  POST /realtime")
	fmt.Println("  POST /quarantine/isolate, /quarantine/restore, /quarantine/delete")
	fmt.Println("  GET  /probe")
	fmt.Println("  GET  /events (websocket)")
	fmt.Println()

	logger := logging.NewStdoutLogger("enginesim")
	server := enginesim.NewServer(cfg, logger)
	if err := server.Start(); err != nil {
		log.Fatalf("Simulator error: %v", err)
	}
}
