// Command spendcycle materializes recurring expense rules into transactions.
package main

import (
	"fmt"
	"os"

	"github.com/ArionMiles/spendcycle/pkg/logging"
)

const usage = `spendcycle - generate transactions from recurring expense rules

Usage:
  spendcycle <command> [flags]

Commands:
  run      Run passes for every configured profile on an interval
  once     Run a single pass and print the results as JSON
  setup    Authorize Google Sheets export
  status   Check configuration, store connectivity and credentials

Every command accepts -config <file.json>; environment variables override it.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger := logging.Setup(logging.DefaultConfig())

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runDaemon(args)
	case "once":
		err = runOnce(args)
	case "setup":
		err = runSetup(args)
	case "status":
		err = runStatus(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}
