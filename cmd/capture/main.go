// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"

	"github.com/relabs-tech/glove_capture/internal/app"
	"github.com/relabs-tech/glove_capture/internal/config"
)

func main() {
	log.Println("starting glove capture station")

	// Load configuration
	if err := config.InitGlobal("glove_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunCapture(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
