package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/connectorctl/internal/bridge"
	"github.com/danmuck/connectorctl/internal/logging"
)

func main() {
	path := flag.String("config", "", "connector config file (optional; environment overrides apply)")
	flag.Parse()

	cfg, logCfg, err := loadServiceConfig(*path, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connectorctl: %v\n", err)
		os.Exit(1)
	}
	logging.ConfigureWith(logCfg)

	svc := bridge.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "connectorctl: %v\n", err)
		os.Exit(1)
	}
}
