package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Cogni-Robot/init-servo/config"
	"github.com/Cogni-Robot/init-servo/database"
	"github.com/Cogni-Robot/init-servo/engine"
	"github.com/Cogni-Robot/init-servo/servo-panel/tui"
	"github.com/Cogni-Robot/init-servo/st3215"
)

func main() {
	// --- Argument Parsing ---
	cfgPath := flag.String("config", "", "Path to a YAML configuration file (optional)")
	port := flag.String("port", "", "Serial port (e.g. /dev/ttyACM0); empty = autodetect")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *cfgPath != "" {
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("FATAL: Could not load configuration from %s: %v", *cfgPath, err)
		}
	} else {
		cfg = config.Default()
	}
	if *port != "" {
		cfg.Port = *port
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("FATAL: Invalid configuration: %v", err)
	}

	// --- Logging Setup ---
	soeLogFile, err := os.OpenFile("panel_events.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("Failed to open SOE log file: %v", err)
	}
	defer soeLogFile.Close()
	soeLogger := log.New(soeLogFile, "", log.LstdFlags|log.Lmicroseconds)

	dbLogFile, err := os.OpenFile("panel_database.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("Failed to open database log file: %v", err)
	}
	defer dbLogFile.Close()
	dbLogger := log.New(dbLogFile, "DB: ", log.LstdFlags|log.Lmicroseconds)

	// --- Coordinated Shutdown Setup ---
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	// --- Channel and State Initialization ---
	dbEventChan := make(chan database.Event, 100)
	state := engine.NewState()
	queue := engine.NewQueue()

	// One connection attempt per call; the worker owns retry pacing.
	dial := func() (engine.Link, error) {
		return st3215.Open(cfg.Port, cfg.Baud, cfg.ReadTimeout())
	}
	worker := engine.NewWorker(cfg, state, queue, dial, dbEventChan, soeLogger)

	// --- Start Goroutines ---
	wg.Add(2)
	go worker.Run(ctx, &wg)
	go database.Writer(ctx, &wg, cfg.DatabaseDir, dbEventChan, dbLogger)

	// --- Start TUI ---
	tuiModel := tui.NewModel(state, queue, worker.Notify(), soeLogger, cfg.TempLimit())
	p := tea.NewProgram(tuiModel, tea.WithAltScreen())

	go func() {
		if _, err := p.Run(); err != nil {
			log.Fatalf("Alas, there's been an error: %v", err)
		}
		// When the TUI exits for any reason, trigger the shutdown.
		cancel()
	}()

	// --- Graceful Shutdown Handling ---
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-shutdownChan:
		soeLogger.Println("Shutdown signal received. Cleaning up.")
		p.Quit()
	case <-ctx.Done():
		soeLogger.Println("TUI exited. Shutting down other processes.")
	}

	soeLogger.Println("Waiting for goroutines to finish...")
	wg.Wait()
	soeLogger.Println("All goroutines finished. Exiting.")
	close(dbEventChan)
}
