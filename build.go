//go:build ignore

package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"
)

func main() {
	version := "0.1.0"
	buildDate := time.Now().UTC().Format(time.RFC3339)

	ldflags := fmt.Sprintf("-X 'github.com/Cogni-Robot/init-servo/version.Version=%s' -X 'github.com/Cogni-Robot/init-servo/version.BuildDate=%s'", version, buildDate)

	for _, tool := range []string{"./servo-panel", "./servo-init", "./servo-scan"} {
		log.Printf("Building %s...", tool)
		cmd := exec.Command("go", "build", "-ldflags", ldflags, tool)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			log.Fatalf("Build failed: %v", err)
		}
	}

	log.Println("Build successful.")
}
