package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mtlprog/seasonal/internal/config"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	app := &cli.App{
		Name:  "seasonal",
		Usage: "derive seasonal profiles from daily OHLC price histories",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			processCommand(),
			importCommand(),
			exportCommand(),
			assetsCommand(),
			statsCommand(),
			resetCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
