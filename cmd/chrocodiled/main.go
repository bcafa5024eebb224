// Package main is the chrocodiled command itself.
package main

import (
	"os"

	"github.com/janvangent1/CHrocodile/cli"
	"github.com/janvangent1/CHrocodile/logging"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		logging.Global().Errorw("chrocodiled failed", "error", err)
		os.Exit(1)
	}
}
