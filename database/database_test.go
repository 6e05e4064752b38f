package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWriter_WritesToConfiguredDir(t *testing.T) {
	dir := t.TempDir()
	logger := log.New(io.Discard, "", 0)
	ctx, cancel := context.WithCancel(context.Background())
	eventChan := make(chan Event, 10)
	var wg sync.WaitGroup

	wg.Add(1)
	go Writer(ctx, &wg, dir, eventChan, logger)

	now := time.Now()
	eventChan <- Event{Timestamp: now, Subject: "link", NewValue: "CONNECTED", EventType: "LINK_UP"}
	eventChan <- Event{Timestamp: now, Subject: "servo 3", NewValue: "72", Units: "C", EventType: "ALARM_RAISED"}
	cancel()
	wg.Wait()

	fileName := filepath.Join(dir, fmt.Sprintf("servo_events_%s.db", now.Format("2006-01-02")))
	if _, err := os.Stat(fileName); err != nil {
		t.Fatalf("daily file not created under configured dir: %v", err)
	}

	db, err := sql.Open("sqlite", fileName)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 events written, got %d", count)
	}
}
