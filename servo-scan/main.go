package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/Cogni-Robot/init-servo/config"
	"github.com/Cogni-Robot/init-servo/st3215"
)

// servo-scan opens the link, lists the servos that answer, and exits.
func main() {
	port := flag.String("port", "", "Serial port (e.g. /dev/ttyACM0); empty = autodetect")
	flag.Parse()

	cfg := config.Default()
	if *port != "" {
		cfg.Port = *port
	}

	bus, err := st3215.Open(cfg.Port, cfg.Baud, cfg.ReadTimeout())
	if err != nil {
		log.Fatalf("FATAL: Could not open serial link: %v", err)
	}
	defer bus.Close()

	servos, err := bus.Scan(cfg.Scan.MinID, cfg.Scan.MaxID)
	if err != nil {
		log.Fatalf("FATAL: Scan failed: %v", err)
	}

	fmt.Printf("Connected servos on %s: %v (total: %d)\n", bus.Name(), servos, len(servos))
	for _, id := range servos {
		pos, err := bus.ReadPosition(id)
		if err != nil {
			fmt.Printf("  ID %-3d position: read failed (%v)\n", id, err)
			continue
		}
		fmt.Printf("  ID %-3d position: %d\n", id, pos)
	}
}
