// migrate applies medauth's embedded SQL migrations: go run ./cmd/migrate -direction up
package main

import (
	"flag"
	"fmt"
	"os"

	"medauth/cmd/internal/app"
	"medauth/cmd/internal/db"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	if err := app.LoadDotEnv(app.DefaultDotEnvFiles...); err != nil {
		fmt.Fprintln(os.Stderr, "dotenv:", err)
		os.Exit(1)
	}

	cfg := app.LoadConfig()
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "MEDAUTH_DATABASE_URL is not set; create a .env or export it")
		os.Exit(1)
	}

	// Run swallows db.ErrNoChange, so an up-to-date schema exits 0.
	if err := db.Run(cfg.DatabaseURL, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	fmt.Printf("migrate %s: done\n", *direction)
}
