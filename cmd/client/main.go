package main

import (
	"context"
	"log"

	"oltchat/internal/client/cli"
	"oltchat/internal/client/config"
)

func main() {

	cfg := config.LoadConfig()
	app := cli.NewApp(cfg)

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("%v", err)
	}
}
