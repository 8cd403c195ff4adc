// AgroLink broker entry point. Loads the YAML configuration, connects the
// configured vehicles and serves the operator channel plus the diagnostic
// HTTP API until interrupted.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"agrolink/internal/app"
	"agrolink/internal/model"
	"agrolink/internal/util"
)

func main() {
	cfgPath := flag.String("c", "configs/config.yml", "path to configuration file")
	flag.Parse()

	util.SetupLogger()

	cfg, err := model.LoadConfig(*cfgPath)
	if err != nil {
		util.Error("[main] %v", err)
		os.Exit(1)
	}
	util.Debug = cfg.LogDebug

	broker, err := app.NewBroker(cfg)
	if err != nil {
		util.Error("[main] %v", err)
		os.Exit(1)
	}
	if err := broker.Start(); err != nil {
		util.Error("[main] %v", err)
		os.Exit(1)
	}
	util.Info("[main] agrolink broker started, %d vehicles configured", len(cfg.Vehicles))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	util.Info("[main] shutting down")
	broker.Stop()
}
