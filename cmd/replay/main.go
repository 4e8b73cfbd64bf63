// Command replay drives the golden replay harness (§4.10, module K): it
// streams a WAV fixture at a live relay or backend and prints a JSON run
// report of what came back.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ghostengineai/glyphonic/internal/replay"
)

func main() {
	os.Exit(run())
}

func run() int {
	url := flag.String("url", "", "WebSocket URL to dial (relay or backend)")
	wavPath := flag.String("wav", "", "path to a mono 16-bit PCM WAV fixture at 16kHz")
	traceID := flag.String("trace-id", "", "trace id to seed the session with (random if empty)")
	instructions := flag.String("instructions", "", "optional commit.instructions to send after streaming")
	timeout := flag.Duration("timeout", 30*time.Second, "how long to wait for response_completed")
	flag.Parse()

	if *url == "" || *wavPath == "" {
		fmt.Fprintln(os.Stderr, "replay: -url and -wav are required")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+5*time.Second)
	defer cancel()

	report, err := replay.Run(ctx, replay.Config{
		URL:                *url,
		WAVPath:            *wavPath,
		TraceID:            *traceID,
		CommitInstructions: *instructions,
		Timeout:            *timeout,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if report != nil {
		_ = enc.Encode(report)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 1
	}
	return 0
}
