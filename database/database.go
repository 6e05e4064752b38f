package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Event represents a single loggable action or state change in the system.
type Event struct {
	Timestamp     time.Time
	Subject       string // servo id ("servo 3") or "link"
	PreviousValue string
	NewValue      string
	Units         string
	EventType     string // LINK_UP, LINK_DOWN, SERVO_FOUND, SERVO_LOST, USER_COMMAND, ALARM_RAISED, ALARM_CLEARED
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    subject TEXT NOT NULL,
    previous_value TEXT,
    new_value TEXT,
    units TEXT,
    event_type TEXT NOT NULL
);`

// Writer is a long-running goroutine that listens for events and appends
// them to a daily SQLite database file under dir (empty = current directory).
func Writer(ctx context.Context, wg *sync.WaitGroup, dir string, eventChan <-chan Event, logger *log.Logger) {
	defer wg.Done()
	logger.Println("Database Writer Goroutine Started.")
	dbConnections := make(map[string]*sql.DB)
	defer func() {
		for _, db := range dbConnections {
			db.Close()
		}
		logger.Println("Database Writer Goroutine Shutting Down.")
	}()

	writeEvent := func(event Event) {
		dateStr := event.Timestamp.Format("2006-01-02")
		db, ok := dbConnections[dateStr]
		if !ok {
			var err error
			fileName := filepath.Join(dir, fmt.Sprintf("servo_events_%s.db", dateStr))
			db, err = sql.Open("sqlite", fileName)
			if err != nil {
				logger.Printf("FATAL: Could not open/create database %s: %v", fileName, err)
				return
			}
			if _, err := db.Exec(createTableSQL); err != nil {
				logger.Printf("FATAL: Could not create table in %s: %v", fileName, err)
				db.Close()
				return
			}
			dbConnections[dateStr] = db
		}
		_, err := db.Exec(
			"INSERT INTO events (timestamp, subject, previous_value, new_value, units, event_type) VALUES (?, ?, ?, ?, ?, ?)",
			event.Timestamp.Format("2006-01-02 15:04:05.000"),
			event.Subject,
			event.PreviousValue,
			event.NewValue,
			event.Units,
			event.EventType,
		)
		if err != nil {
			logger.Printf("ERROR: Failed to insert event into database: %v", err)
		}
	}

	for {
		select {
		case event := <-eventChan:
			writeEvent(event)
		case <-ctx.Done():
			// Drain anything still queued before shutting down.
			for {
				select {
				case event := <-eventChan:
					writeEvent(event)
				default:
					return
				}
			}
		}
	}
}
