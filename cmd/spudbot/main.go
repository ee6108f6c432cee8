package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "text" | "json"
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	run := newRunCommand(opts)

	cmd := &cobra.Command{
		Use:           "spudbot",
		Short:         "Network stats bot with calendar event sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			switch opts.Format {
			case "text", "json":
				return nil
			default:
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
		},
		// Without a subcommand the bot runs.
		RunE: run.RunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging for one-shot commands")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format for one-shot commands (text|json)")

	cmd.AddCommand(run, newScheduleCommand(opts), newResyncCommand(opts))
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
