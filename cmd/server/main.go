// Command server runs the creatorauth HTTP API and gRPC endpoint.
//
// Configuration is read from CREATORAUTH_* environment variables, optionally
// loaded from the .env files given as arguments.
package main

import (
	"context"
	"log"
	"os"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	app, err := NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	if err := app.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
}
