package main

import (
	"context"
	"flag"
	"log"

	"craft-and-carry/modsync/internal/app"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the TOML configuration file")
	flag.Parse()

	if err := app.Run(context.Background(), app.Config{ConfigPath: configPath}); err != nil {
		log.Fatalf("%v", err)
	}
}
