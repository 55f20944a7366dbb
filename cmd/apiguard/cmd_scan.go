package main

// ---------------------------------------------------------------------------
// cmd_scan.go — scan a value against the threat signature library
// ---------------------------------------------------------------------------

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/mariia-hub/apiguard/internal/core"
	"github.com/mariia-hub/apiguard/internal/patterns"
	"github.com/mariia-hub/apiguard/internal/validator"
)

func cmdScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	kindName := fs.String("kind", "string", "input kind: string, email, phone, url, number, date, json, filename, html")
	asJSON := fs.Bool("json", false, "emit the verdict as JSON")
	fs.Parse(args)

	value := ""
	if fs.NArg() > 0 {
		value = fs.Arg(0)
	} else {
		// Read one value from stdin when no argument is given.
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		if scanner.Scan() {
			value = scanner.Text()
		}
	}
	if value == "" {
		fmt.Fprintln(os.Stderr, red("error: ")+"nothing to scan, pass a value or pipe one on stdin")
		os.Exit(1)
	}

	kind, ok := validator.ParseKind(*kindName)
	if !ok {
		fmt.Fprintf(os.Stderr, red("error: ")+"unknown kind %q\n", *kindName)
		os.Exit(1)
	}

	cfg := core.DefaultConfig()
	lib := patterns.NewLibrary()
	v := validator.New(lib, cfg.Validator, zerolog.Nop())
	verdict := v.Validate(value, kind, validator.Constraints{Required: true})

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(verdict)
	} else if verdict.Safe {
		fmt.Println(green("clean"))
	} else {
		fmt.Printf("%s severity=%s\n", red("unsafe"), verdict.Severity)
		for _, reason := range verdict.Reasons {
			fmt.Printf("  reason: %s\n", reason)
		}
		for _, cat := range verdict.Categories {
			fmt.Printf("  category: %s\n", cat)
		}
	}

	if !verdict.Safe {
		os.Exit(2)
	}
}
