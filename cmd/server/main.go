/*
main.go - Scenario engine HTTP server

PURPOSE:
  Starts the API server: opens the run store, wires the router and
  handles graceful shutdown.

USAGE:
  server -addr :8080 -db ./data/runs.db

CONFIGURATION:
  -addr  Listen address (default :8080)
  -db    SQLite database path (default ./data/runs.db)

SEE ALSO:
  - api/server.go: Router setup
  - store/sqlite/sqlite.go: Run persistence
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/finbrick/scenario-engine/api"
	"github.com/finbrick/scenario-engine/store/sqlite"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	dbPath := flag.String("db", "./data/runs.db", "SQLite database path")
	flag.Parse()

	if dir := filepath.Dir(*dbPath); dir != "." && *dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create data directory: %v", err)
		}
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	handler := api.NewHandler(store)
	server := &http.Server{
		Addr:         *addr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("scenario engine listening on %s (db %s)", *addr, *dbPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
