// Command ipcctl inspects schema files, manages runtime configs and serves the admin endpoint.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"

	"github.com/danmuck/edgeipc/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ipcctl: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "ipcctl"
	app.Usage = "inspect struct schemas and run the edgeipc admin endpoint"
	app.Version = "0.1.0"
	app.Writer = stdout
	app.Commands = []cli.Command{
		cli.Command{
			Name:      "inspect",
			Usage:     "Print the structs in a schema file",
			ArgsUsage: "<schema.bin>",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "fields, f",
					Usage: "Print field layouts",
				},
				cli.BoolFlag{
					Name:  "verify",
					Usage: "Recompute every layout signature and fail on a mismatch",
				},
			},
			Action: inspectCommand,
		},
		cli.Command{
			Name:      "validate-config",
			Usage:     "Load and validate a runtime config file",
			ArgsUsage: "<config.toml>",
			Action:    validateConfigCommand,
		},
		cli.Command{
			Name:      "template",
			Usage:     "Write a runtime config template",
			ArgsUsage: "<config.toml>",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "force",
					Usage: "Overwrite an existing file",
				},
			},
			Action: templateCommand,
		},
		cli.Command{
			Name:  "serve",
			Usage: "Serve the admin HTTP endpoint and the optional relay listener",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "config, c",
					Usage: "Runtime config file; defaults apply when empty",
				},
			},
			Action: serveCommand,
		},
	}
	return app
}
