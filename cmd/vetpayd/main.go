// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// vetpayd runs the payment plan collection engine.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

const (
	// exitErr is returned when the daemon fails.
	exitErr = 1
	// exitUsage is returned when vetpayd is run in an invalid way.
	exitUsage = 2

	defaultConfigPath = "/etc/vetpay/vetpayd.yaml"
)

const usage = `usage: vetpayd [--config path] <command> [options]

commands:
  serve            serve the API and run the scheduled workers (default)
  sweep            run one collection sweep and exit
  export-ledger    write the fund ledger and audit log as an XLSX workbook
`

func main() {
	os.Exit(Main(os.Args, os.Stdout, os.Stderr))
}

// Main runs vetpayd with the given arguments and returns its exit code.
func Main(args []string, stdout, stderr io.Writer) int {
	flags := gnuflag.NewFlagSet("vetpayd", gnuflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() { fmt.Fprint(stderr, usage) }

	var configPath string
	flags.StringVar(&configPath, "config", defaultConfigPath, "path to the configuration file")
	if err := flags.Parse(false, args[1:]); err != nil {
		return exitUsage
	}

	command := "serve"
	rest := flags.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	var run func(configPath string, args []string, stdout io.Writer) error
	switch command {
	case "serve":
		run = runServe
	case "sweep":
		run = runSweep
	case "export-ledger":
		run = runExportLedger
	default:
		fmt.Fprintf(stderr, "vetpayd: unknown command %q\n%s", command, usage)
		return exitUsage
	}

	if err := run(configPath, rest, stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "vetpayd %s: %v\n", command, err)
			return exitUsage
		}
		fmt.Fprintf(stderr, "vetpayd %s: %v\n", command, err)
		return exitErr
	}
	return 0
}

// errUsage marks errors caused by invalid arguments.
const errUsage = errors.ConstError("invalid arguments")
