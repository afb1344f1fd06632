package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"medtrack/internal/medication"
)

// preview needs no config or storage.
var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print upcoming dose times for a frequency and start",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		freq, _ := f.GetString("frequency")
		startRaw, _ := f.GetString("start")
		atRaw, _ := f.GetString("at")
		tz, _ := f.GetString("timezone")
		count, _ := f.GetInt("count")

		loc := time.Local
		if strings.TrimSpace(tz) != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return fmt.Errorf("timezone: %w", err)
			}
			loc = l
		}
		start, err := medication.ParseStart(startRaw, loc)
		if err != nil {
			return err
		}
		now := time.Now()
		if atRaw != "" {
			if now, err = medication.ParseStart(atRaw, loc); err != nil {
				return fmt.Errorf("at: %w", err)
			}
		}

		kind := medication.ParseFrequency(freq)
		interval := kind.Interval()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "frequency %q -> %s (every %s)\n", freq, kind, interval)
		for _, t := range medication.NextDoses(start, interval, now, count) {
			fmt.Fprintln(out, t.In(loc).Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	f := previewCmd.Flags()
	f.String("frequency", "", `frequency text, e.g. "Twice daily"`)
	f.String("start", "", "first dose, RFC3339 or local 2006-01-02T15:04")
	f.String("at", "", "evaluate as of this instant instead of now")
	f.String("timezone", "", "IANA zone for local times (default: system zone)")
	f.Int("count", medication.DefaultPreviewCount, "number of doses to print")
	_ = previewCmd.MarkFlagRequired("start")
}
