package main

import (
	"flag"
	"log"

	"turnstile/config"
	"turnstile/server"
)

func main() {
	cfgPath := flag.String("config", "", "directory containing turnstile.yaml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	app := &server.App{}
	app.Initialize(cfg)
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
