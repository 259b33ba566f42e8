package main

import (
	"log"

	"github.com/katsuma/jukeboxx/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ jukebox failed: %v", err)
	}
}
