// Copyright 2025 The pyrelay Authors
// This file is part of pyrelay.
//
// pyrelay is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// pyrelay is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with pyrelay. If not, see <http://www.gnu.org/licenses/>.

// pyrelayd is the gasless-transaction relay daemon. Run without a
// command it serves the relay; the admin subcommands drive a running
// daemon over its guarded HTTP surface.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pyrelay/pyrelay/config"
	"github.com/pyrelay/pyrelay/log"
	"github.com/pyrelay/pyrelay/node"
	"github.com/pyrelay/pyrelay/params"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	app := &cli.App{
		Name:    "pyrelayd",
		Usage:   "gasless transaction relay daemon",
		Version: params.VersionWithMeta,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML configuration `FILE` (environment overrides it)",
			},
		},
		Action: runDaemon,
		Commands: []*cli.Command{
			adminCommand(),
			{
				Name:  "version",
				Usage: "print the version and exit",
				Action: func(*cli.Context) error {
					fmt.Println(params.VersionWithMeta)
					return nil
				},
			},
		},
		CommandNotFound: func(_ *cli.Context, cmd string) {
			fmt.Fprintf(os.Stderr, "pyrelayd: unknown command %q\n", cmd)
			os.Exit(exitUsage)
		},
		OnUsageError: func(_ *cli.Context, err error, _ bool) error {
			fmt.Fprintf(os.Stderr, "pyrelayd: %v\n", err)
			os.Exit(exitUsage)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "pyrelayd: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}

func runDaemon(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	log.Setup(cfg.LogConfig())

	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	return n.Run()
}
