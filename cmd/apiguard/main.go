package main

// ---------------------------------------------------------------------------
// main.go — command dispatcher for the apiguard CLI
//
// Command implementations live in their own files (cmd_*.go). Shared
// helpers are in helpers.go.
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
)

var (
	version   = "0.4.0"
	commit    = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	subcmd := os.Args[1]
	args := os.Args[2:]

	switch subcmd {
	case "serve":
		cmdServe(args)
	case "scan":
		cmdScan(args)
	case "config":
		cmdConfig(args)
	case "version", "--version", "-V":
		printVersion(os.Stdout)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, red("error: ")+"unknown command %q\n\n", subcmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

func printVersion(w *os.File) {
	fmt.Fprintf(w, "apiguard %s (commit %s, built %s)\n", version, commit, buildDate)
}

func printUsage(w *os.File) {
	fmt.Fprintf(w, `%s — API security validation and monitoring engine

Usage:
  apiguard <command> [flags]

Commands:
  serve      Run the engine with the operator API
  scan       Scan a value against the threat signature library
  config     Initialize or show configuration
  version    Print version information
  help       Show this help

Use "apiguard <command> -h" for command flags.
`, bold("apiguard"))
}
