package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chainsafe/senate-indexer/pkg/app"
	"github.com/chainsafe/senate-indexer/pkg/app/refresher"
	"github.com/chainsafe/senate-indexer/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var runner app.Runner = refresher.NewServer(cfg)
	if err := runner.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Refresher failed: %v\n", err)
		os.Exit(1)
	}
}
