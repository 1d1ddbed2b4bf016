package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/99scratch/WALKOFF/pkg/cmd"
	"github.com/99scratch/WALKOFF/pkg/log"
	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/registry"
	"github.com/99scratch/WALKOFF/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

// NewValidateCommand checks workflow files, or the stored workflows when no
// file is given, against the registered apps.
func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate workflow files or stored workflows",
		ArgsUsage: "[workflow.yaml]...",
		Flags: []cli.Flag{
			databaseFlag(false),
			pluginsFlag(),
			logLevelFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule(serviceName).With("action", "validate")

			registry := cmd.NewRegistry(logger, command.String("plugins-path"))

			workflows, err := loadForValidation(ctx, logger, command)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Validating workflows", "workflows", len(workflows))

			invalid := report(command.Root().Writer, registry, workflows)
			if invalid > 0 {
				return fmt.Errorf("%d of %d workflows are invalid", invalid, len(workflows))
			}

			return nil
		},
	}
}

func loadForValidation(ctx context.Context, logger *slog.Logger, command *cli.Command) ([]*models.Workflow, error) {
	files := command.Args().Slice()
	if len(files) > 0 {
		workflows := make([]*models.Workflow, 0, len(files))

		for _, file := range files {
			wf, err := workflow.LoadFile(file)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}

			workflows = append(workflows, wf)
		}

		return workflows, nil
	}

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		err := persistence.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	workflows, err := workflow.NewRepository(persistence).FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflows: %w", err)
	}

	return workflows, nil
}

func report(out io.Writer, registry *registry.Registry, workflows []*models.Workflow) int {
	invalid := 0

	_, _ = fmt.Fprintln(out, "Workflow Validation Results:")
	_, _ = fmt.Fprintln(out, "============================")

	for _, wf := range workflows {
		_, _ = fmt.Fprintf(out, "\nWorkflow: %s (%s)\n", wf.Name, wf.ID)

		if workflow.Validate(wf, registry) {
			_, _ = fmt.Fprintln(out, "    ✅ VALID")

			continue
		}

		invalid++

		for _, message := range wf.Errors {
			_, _ = fmt.Fprintf(out, "    ❌ INVALID: %s\n", message)
		}
	}

	_, _ = fmt.Fprintf(out, "\nSummary: %d valid, %d invalid\n", len(workflows)-invalid, invalid)

	return invalid
}
