package main

import (
	app "trafficgate/internal/app/server"
	"trafficgate/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)
	app.Run(cfg)
}
