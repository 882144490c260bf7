package main

import (
	"log"

	"github.com/relabs-tech/glove_capture/internal/app"
	"github.com/relabs-tech/glove_capture/internal/config"
)

func main() {
	log.Println("starting glove console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal("glove_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
