package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"docify/internal/infra"
)

func main() {
	var (
		stepsFlag int
		urlFlag   string
	)
	flag.IntVar(&stepsFlag, "steps", 1, "number of migrations to roll back with the down command")
	flag.StringVar(&urlFlag, "database-url", "", "Postgres URL (defaults to DATABASE_URL)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [flags] up|down|version\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	_ = godotenv.Load()
	dbURL := strings.TrimSpace(urlFlag)
	if dbURL == "" {
		dbURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dbURL == "" {
		exitWithError(fmt.Errorf("DATABASE_URL is required"))
	}

	cmd := "up"
	if flag.NArg() > 0 {
		cmd = strings.ToLower(flag.Arg(0))
	}

	switch cmd {
	case "up":
		if err := infra.RunMigrations(dbURL); err != nil {
			exitWithError(err)
		}
		fmt.Println("migrations applied")
	case "down":
		if err := infra.RollbackMigrations(dbURL, stepsFlag); err != nil {
			exitWithError(err)
		}
		fmt.Printf("rolled back %d migration(s)\n", stepsFlag)
	case "version":
		version, dirty, err := infra.MigrationVersion(dbURL)
		if err != nil {
			exitWithError(err)
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
	os.Exit(1)
}
