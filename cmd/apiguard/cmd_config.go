package main

// ---------------------------------------------------------------------------
// cmd_config.go — initialize or show configuration
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mariia-hub/apiguard/internal/core"
)

func cmdConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", "apiguard.yaml", "path to config file")
	doInit := fs.Bool("init", false, "write a default config file")
	fs.Parse(args)

	if *doInit {
		if _, err := os.Stat(*configPath); err == nil {
			fmt.Fprintf(os.Stderr, red("error: ")+"%s already exists\n", *configPath)
			os.Exit(1)
		}
		if err := core.SaveConfig(core.DefaultConfig(), *configPath); err != nil {
			fmt.Fprintf(os.Stderr, red("error: ")+"writing config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s wrote %s\n", green("ok"), *configPath)
		return
	}

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, red("error: ")+"loading config: %v\n", err)
		os.Exit(1)
	}
	// Never print API keys.
	cfg.Server.APIKeys = nil
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, red("error: ")+"marshaling config: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
}
