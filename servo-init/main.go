package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Cogni-Robot/init-servo/config"
	"github.com/Cogni-Robot/init-servo/st3215"
	"github.com/Cogni-Robot/init-servo/version"
)

// servo-init watches the control board and, when exactly one servo is
// connected, offers to reassign its bus ID. Connect servos one at a time.
func main() {
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

	fmt.Printf("=== Cogni-Robot servo initialisation (%s) ===\n", version.Version)
	fmt.Println("Press Ctrl+C to quit")
	fmt.Println()

	stdin := bufio.NewReader(os.Stdin)
	var bus *st3215.Bus
	var lastServos []uint8
	boardConnected := false

	for {
		if bus == nil {
			bus, err = st3215.Open(cfg.Port, cfg.Baud, cfg.ReadTimeout())
			if err != nil {
				if boardConnected {
					fmt.Println("/!\\ Control board disconnected")
					boardConnected = false
					lastServos = nil
				}
				time.Sleep(time.Second)
				continue
			}
			fmt.Printf("Control board detected on %s\n", bus.Name())
			boardConnected = true
		}

		servos, err := bus.Scan(cfg.Scan.MinID, cfg.Scan.MaxID)
		if err != nil {
			fmt.Println("/!\\ Control board disconnected")
			bus.Close()
			bus = nil
			boardConnected = false
			lastServos = nil
			time.Sleep(time.Second)
			continue
		}

		if !equalIDs(servos, lastServos) {
			switch len(servos) {
			case 0:
				fmt.Println("/!\\ No servo detected")
			case 1:
				fmt.Printf("Connected servos: %v (total: 1)\n", servos)
				offerIDChange(bus, stdin, servos[0])
			default:
				fmt.Printf("Connected servos: %v (total: %d)\n", servos, len(servos))
				fmt.Println("/!\\ Several servos detected. Connect exactly one to change an ID.")
			}
			lastServos = servos
		}

		time.Sleep(time.Second)
	}
}

func offerIDChange(bus *st3215.Bus, stdin *bufio.Reader, current uint8) {
	fmt.Printf("\nSingle servo detected (ID: %d)\n", current)
	fmt.Println("Change its ID? (y/n)")
	answer, err := stdin.ReadString('\n')
	if err != nil || strings.ToLower(strings.TrimSpace(answer)) != "y" {
		return
	}
	fmt.Printf("Enter the new ID (0-%d):\n", st3215.MaxID)
	line, err := stdin.ReadString('\n')
	if err != nil {
		return
	}
	newID, err := strconv.ParseUint(strings.TrimSpace(line), 10, 8)
	if err != nil || newID > st3215.MaxID {
		fmt.Printf("x Invalid ID %q\n\n", strings.TrimSpace(line))
		return
	}
	if err := bus.ChangeID(current, uint8(newID)); err != nil {
		fmt.Printf("x Error: %v\n\n", err)
		return
	}
	fmt.Printf("+ ID changed: %d -> %d\n\n", current, newID)
}

func equalIDs(a, b []uint8) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
