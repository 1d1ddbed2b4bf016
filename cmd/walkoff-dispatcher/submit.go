package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/99scratch/WALKOFF/pkg/dispatcher"
	"github.com/99scratch/WALKOFF/pkg/log"
	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/workflow"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

var errNoWorkflowFiles = errors.New("at least one workflow file is required")

// NewSubmitCommand runs workflow files to completion on an in-process
// dispatcher and prints the resulting execution records.
func NewSubmitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Aliases:   []string{"s"},
		Usage:     "Execute workflow files and wait for them to finish",
		ArgsUsage: "<workflow.yaml>...",
		Flags: []cli.Flag{
			databaseFlag(false),
			workersFlag(),
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the executions to finish",
				Value: 5 * time.Minute,
			},
			pluginsFlag(),
			logLevelFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			files := command.Args().Slice()
			if len(files) == 0 {
				return errNoWorkflowFiles
			}

			log.Setup(command.String("log-level"))

			logger := log.WithModule(serviceName).With("action", "submit")

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			n := newNode(ctx, logger, options{
				DatabaseURL: command.String("database-url"),
				Transport:   "gochannel",
				EventBus:    "gochannel",
				PluginsPath: command.String("plugins-path"),
				Workers:     int(command.Int("workers")),
			})
			defer n.close(context.WithoutCancel(ctx))

			group, groupCtx := errgroup.WithContext(ctx)

			err := n.start(groupCtx, group.Go)
			if err != nil {
				cancel()
				_ = group.Wait()

				return err
			}

			executionIDs, err := submitFiles(groupCtx, n, files)
			if err == nil {
				err = n.collector.WaitForCompletions(groupCtx, len(executionIDs), command.Duration("timeout"))
			}

			exitErr := n.dispatcher.Exit(context.WithoutCancel(ctx))
			if exitErr != nil {
				logger.ErrorContext(ctx, "Failed to stop workers", "error", exitErr)
			}

			cancel()
			_ = group.Wait()

			if err != nil {
				return err
			}

			return printExecutions(context.WithoutCancel(ctx), command, n, executionIDs)
		},
	}
}

func submitFiles(ctx context.Context, n *node, files []string) ([]string, error) {
	executionIDs := make([]string, 0, len(files))

	for _, file := range files {
		wf, err := workflow.LoadFile(file)
		if err != nil {
			return executionIDs, fmt.Errorf("%s: %w", file, err)
		}

		wf, err = n.workflows.Save(ctx, wf, n.registry)
		if err != nil {
			return executionIDs, fmt.Errorf("%s: %w", file, err)
		}

		executionID, err := n.dispatcher.Submit(ctx, dispatcher.SubmitRequest{WorkflowID: wf.ID})
		if err != nil {
			return executionIDs, fmt.Errorf("%s: %w", file, err)
		}

		n.logger.InfoContext(ctx, "Workflow submitted", "workflow_id", wf.ID, "execution_id", executionID)

		executionIDs = append(executionIDs, executionID)
	}

	return executionIDs, nil
}

func printExecutions(ctx context.Context, command *cli.Command, n *node, executionIDs []string) error {
	encoder := json.NewEncoder(command.Root().Writer)
	encoder.SetIndent("", "  ")

	var failed []string

	for _, id := range executionIDs {
		execution, err := n.persistence.ExecutionByID(ctx, id)
		if err != nil {
			return err
		}

		err = encoder.Encode(execution)
		if err != nil {
			return err
		}

		if execution.Status != models.ExecutionStatusCompleted {
			failed = append(failed, id)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("executions did not complete: %v", failed)
	}

	return nil
}
