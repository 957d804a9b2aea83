package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kolide/kit/logutil"
	"github.com/kolide/kit/version"
	"github.com/pkg/errors"
)

func main() {
	// Bind is the default; a leading flag means no subcommand was given.
	args := os.Args[1:]
	subcommand := "bind"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		subcommand, args = args[0], args[1:]
	}

	var err error
	switch subcommand {
	case "bind":
		err = runBind(args)
	case "version":
		version.PrintFull()
		return
	case "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n\n", subcommand)
		usage()
		os.Exit(2)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		logger := logutil.NewCLILogger(true)
		logutil.Fatal(logger, "msg", "bind failed", "err", err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: binder [subcommand] [flags]

Subcommands:
  bind      lay out a compiled installer model (default)
  version   print version information

Run "binder bind -h" for the bind flags.
`)
}
