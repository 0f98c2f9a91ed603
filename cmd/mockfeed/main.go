// Command mockfeed serves a local imitation of the kyoshin monitor feed that
// replays a scripted warning episode on a loop. Point KMONI_BASE_URL at it to
// exercise the notifier end to end without waiting for a real earthquake.
//
// Usage:
//
//	go run ./cmd/mockfeed -addr :8090 -period 2m
//	KMONI_BASE_URL=http://localhost:8090 go run ./cmd/eew
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	addr := flag.String("addr", ":8090", "listen address")
	period := flag.Duration("period", 2*time.Minute, "length of one replay cycle")
	lead := flag.Duration("lead", 15*time.Second, "idle time at the start of each cycle")
	scriptPath := flag.String("script", "", "optional JSON file overriding the built-in episode")
	flag.Parse()

	ep := defaultEpisode()
	if *scriptPath != "" {
		loaded, err := loadEpisode(*scriptPath)
		if err != nil {
			return fmt.Errorf("loading script: %w", err)
		}
		ep = loaded
	}
	if err := ep.validate(*period - *lead); err != nil {
		return err
	}

	feed := newFeed(ep, clockwork.NewRealClock(), *period, *lead)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           feed.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("mock feed listening on %s (cycle %s, %d scripted reports)", *addr, *period, len(ep.Reports))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func loadEpisode(path string) (episode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return episode{}, err
	}
	var ep episode
	if err := json.Unmarshal(data, &ep); err != nil {
		return episode{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return ep, nil
}
