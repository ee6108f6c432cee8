package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"spudbot/internal/app"
	"spudbot/internal/config"
	"spudbot/internal/schedule"
	logx "spudbot/pkg/logx"
)

func newScheduleCommand(opts *rootOptions) *cobra.Command {
	var epoch int64
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the event windows of an epoch",
		Long: `Print the epoch, PoET cycle and cycle gap windows of an epoch.

Without --epoch the current epoch is fetched from the configured source.

Example:
  spudbot schedule --epoch 30
  spudbot schedule --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			cfg, err := config.NewConfigManager(opts.ConfigPath).Parse()
			if err != nil {
				return err
			}
			consts, err := config.Constants(cfg.Schedule)
			if err != nil {
				return err
			}
			calc, err := schedule.New(consts)
			if err != nil {
				return err
			}

			var e uint64
			if cmd.Flags().Changed("epoch") {
				if epoch < 0 {
					return fmt.Errorf("--epoch must be >= 0")
				}
				e = uint64(epoch)
			} else if e, err = app.FetchEpoch(ctx, cfg); err != nil {
				return err
			}
			ws, err := calc.Windows(e)
			if err != nil {
				return err
			}
			return printWindows(cmd.OutOrStdout(), opts.Format, e, ws)
		},
	}
	cmd.Flags().Int64Var(&epoch, "epoch", 0, "epoch number (default: current epoch from the source)")
	return cmd
}

func printWindows(w io.Writer, format string, epoch uint64, ws []schedule.Window) error {
	if format == "json" {
		return writeJSON(w, struct {
			Epoch   uint64            `json:"epoch"`
			Windows []schedule.Window `json:"windows"`
		}{epoch, ws})
	}
	fmt.Fprintf(w, "epoch %d\n", epoch)
	for _, win := range ws {
		fmt.Fprintf(w, "  %-8s seq=%-4d %s -> %s\n", win.Kind, win.Seq,
			win.Start.UTC().Format(time.RFC3339), win.End.UTC().Format(time.RFC3339))
	}
	return nil
}

func newResyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Drop records whose calendar entry is gone, then reconcile once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			level := "info"
			if opts.Verbose {
				level = "debug"
			}
			log := logx.NewConsole(level)

			cfg, err := app.LoadConfig(ctx, opts.ConfigPath)
			if err != nil {
				return err
			}
			core, err := app.OpenCore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := core.Close(); cerr != nil {
					log.Warn("close storage failed", logx.Err(cerr))
				}
			}()

			rr, rep, err := core.Resync(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(out, struct {
					Resync any `json:"resync"`
					Pass   any `json:"pass,omitempty"`
				}{rr, rep})
			}
			fmt.Fprintf(out, "resync: %d external, %d local, purged %v\n", rr.External, rr.Local, rr.Purged)
			if rep != nil {
				fmt.Fprintf(out, "pass %s epoch %d: %d changed\n", rep.Pass, rep.Epoch, rep.Changed())
				for _, res := range rep.Results {
					line := fmt.Sprintf("  %-8s %-8s seq=%d", res.Kind, res.Action, res.Seq)
					if res.Err != nil {
						line += " err=" + res.Err.Error()
					}
					fmt.Fprintln(out, line)
				}
				return rep.Err()
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
