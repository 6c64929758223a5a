package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/clipdrop/internal/logging"
	"github.com/dmitrijs2005/clipdrop/internal/server"
	"github.com/dmitrijs2005/clipdrop/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("config: %v", err)
		os.Exit(1)
	}

	app, err := server.NewApp(ctx, cfg, logging.NewJSONLogger(cfg.LogLevel))
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}
