package main

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"call-monitor/internal/calls"
	"call-monitor/pkg/logger"

	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	var (
		dir        string
		threshold  time.Duration
		activeOnly bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the watch directory once and print the calls found",
		Long:  "Runs a single registry scan over the watch directory and prints the resulting call records as JSON. Useful to check filename parsing and activity classification without starting the server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return errors.New("--dir is required (or set WATCH_DIR)")
			}
			reg := calls.NewRegistry(calls.NewDirLister(dir), calls.RegistryOptions{
				ActiveThreshold: threshold,
				Logger:          logger.NewWithWriter("production", cmd.ErrOrStderr()),
			})
			reg.Scan(cmd.Context())

			out := reg.ListAll()
			if activeOnly {
				out = reg.ListActive()
			}
			if out == nil {
				out = []calls.CallRecord{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", os.Getenv("WATCH_DIR"), "directory holding call recordings")
	cmd.Flags().DurationVar(&threshold, "threshold", calls.DefaultActiveThreshold, "how recently a file must change for its call to count as active")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only print active calls")
	return cmd
}
