// migrate runs DB migrations from embedded SQL; go run ./cmd/migrate [-direction up|down] [-steps n] [-version].
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"lab-access/backend/internal/config"
	"lab-access/backend/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", migrate.Up, "Migration direction: up or down")
	steps := flag.Int("steps", 0, "Apply n migrations (negative rolls back); overrides -direction")
	version := flag.Bool("version", false, "Print the current schema version and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}

	switch {
	case *version:
		v, dirty, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		fmt.Printf("version %d (dirty: %t)\n", v, dirty)
	case *steps != 0:
		if err := migrate.Steps(cfg.DatabaseURL, *steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
	default:
		if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
	}
}
