package main

import (
	"context"

	"github.com/spf13/cobra"

	"groundwrite/api/internal/config"
	"groundwrite/api/internal/generation"
	"groundwrite/api/internal/logger"
)

// generatorFactory builds the generation capability for a command run.
type generatorFactory func(ctx context.Context, log *logger.Logger) (generation.Generator, error)

func defaultGenerator(ctx context.Context, log *logger.Logger) (generation.Generator, error) {
	return generation.FromConfig(ctx, log, config.Load())
}

type rootOptions struct {
	Verbose bool
}

func newRootCommand(newGen generatorFactory) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "groundctl",
		Short:         "Grounded essay tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log pipeline progress to stderr")

	cmd.AddCommand(newDraftCommand(opts, newGen))
	cmd.AddCommand(newTokenCommand())
	return cmd
}

func (o *rootOptions) logger() *logger.Logger {
	if !o.Verbose {
		return logger.Nop()
	}
	log, err := logger.New("dev")
	if err != nil {
		return logger.Nop()
	}
	return log
}
