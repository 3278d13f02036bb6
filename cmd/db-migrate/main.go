// Command db-migrate applies pending schema migrations to the configured
// database and exits.
package main

import (
	"log"

	"github.com/datagen24/cowrieprocessor/internal/config"
	"github.com/datagen24/cowrieprocessor/internal/storage"
)

func main() {
	log.SetFlags(log.LstdFlags)

	cfg := config.LoadFromEnv()
	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db-migrate: open database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("db-migrate: %v", err)
	}
	log.Println("db-migrate: schema up to date")
}
