// Package main provides the WALKOFF dispatcher: it queues workflow executions,
// hands them to workers, collects their results and serves the control API.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "walkoff-dispatcher",
		Usage:                 "Dispatch workflow executions to WALKOFF workers",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewRunCommand(),
			NewSubmitCommand(),
			NewValidateCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
