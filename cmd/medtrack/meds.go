package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"medtrack/internal/app"
	"medtrack/internal/medication"
	"medtrack/internal/reminder"
	"medtrack/internal/storage"
)

// withApp builds the app without starting its dispatcher or listener.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.NewApp(configPath())
	if err != nil {
		return err
	}
	defer a.Stop(context.Background(), app.StopAppStop)
	if a.Store() == nil {
		return storage.ErrDisabled
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fmtTime(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return t.In(loc).Format("2006-01-02 15:04")
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one dispatch pass now and print its report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			rep, err := a.TickOnce(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		})
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List medications",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			meds, err := a.Store().List(ctx)
			if err != nil {
				return err
			}
			loc := a.Location()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tFREQUENCY\tSTART\tLEFT\tLAST SENT")
			for _, m := range meds {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					m.ID, m.Name, m.Frequency, fmtTime(m.StartAt, loc), m.QuantityLeft, fmtTime(m.LastNotificationSentAt, loc))
			}
			return w.Flush()
		})
	},
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a medication",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		name, _ := f.GetString("name")
		dosage, _ := f.GetString("dosage")
		freq, _ := f.GetString("frequency")
		start, _ := f.GetString("start")
		email, _ := f.GetString("email")
		notes, _ := f.GetString("notes")
		qty, _ := f.GetInt("quantity")
		var left *int
		if f.Changed("quantity-left") {
			n, _ := f.GetInt("quantity-left")
			left = &n
		}

		return withApp(func(ctx context.Context, a *app.App) error {
			m := medication.Medication{
				Name:         name,
				Dosage:       dosage,
				Frequency:    freq,
				Email:        email,
				Notes:        notes,
				Quantity:     medication.IntPtr(qty),
				QuantityLeft: medication.InitialQuantityLeft(left, medication.IntPtr(qty)),
			}
			if start != "" {
				t, err := medication.ParseStart(start, a.Location())
				if err != nil {
					return err
				}
				m.StartAt = &t
			}
			created, err := a.Store().Create(ctx, m)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), created.ID)
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change a medication; unset flags keep their stored value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		return withApp(func(ctx context.Context, a *app.App) error {
			m, err := a.Store().Get(ctx, args[0])
			if err != nil {
				return err
			}
			e := storage.Edit{
				Name:      m.Name,
				Dosage:    m.Dosage,
				Frequency: m.Frequency,
				StartAt:   m.StartAt,
				Email:     m.Email,
				Quantity:  m.Quantity,
				Notes:     m.Notes,
			}
			for flag, dst := range map[string]*string{
				"name": &e.Name, "dosage": &e.Dosage, "frequency": &e.Frequency, "email": &e.Email, "notes": &e.Notes,
			} {
				if f.Changed(flag) {
					*dst, _ = f.GetString(flag)
				}
			}
			if f.Changed("start") {
				raw, _ := f.GetString("start")
				e.StartAt = nil
				if raw != "" {
					t, err := medication.ParseStart(raw, a.Location())
					if err != nil {
						return err
					}
					e.StartAt = &t
				}
			}
			if f.Changed("quantity") {
				n, _ := f.GetInt("quantity")
				e.Quantity = &n
			}
			if f.Changed("quantity-left") {
				n, _ := f.GetInt("quantity-left")
				e.QuantityLeft = &n
			}
			updated, err := a.Store().Update(ctx, args[0], e)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		})
	},
}

var refillCmd = &cobra.Command{
	Use:   "refill <id> <quantity-left>",
	Short: "Set the remaining supply of a medication",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("quantity-left %q: %w", args[1], err)
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			m, err := a.Store().SetQuantityLeft(ctx, args[0], n)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d left\n", m.ID, m.QuantityLeft)
			return nil
		})
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a medication",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			return a.Store().Delete(ctx, args[0])
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show reminder status and upcoming doses for a medication",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			m, err := a.Store().Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), reminder.NotificationStatus(m, time.Now()))
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show the dose journal for a medication, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(func(ctx context.Context, a *app.App) error {
			entries, err := a.Store().RecentDoseLog(ctx, args[0], limit)
			if err != nil {
				return err
			}
			loc := a.Location()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "AT\tOUTCOME\tLEFT\tERROR")
			for _, e := range entries {
				at := e.At
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", fmtTime(&at, loc), e.Outcome, strconv.Itoa(e.QuantityLeft), e.Error)
			}
			return w.Flush()
		})
	},
}

func init() {
	f := addCmd.Flags()
	f.String("name", "", "medication name (required)")
	f.String("dosage", "", "dosage text, e.g. 500mg")
	f.String("frequency", "", `frequency text, e.g. "Every 8 hours"`)
	f.String("start", "", "first dose, RFC3339 or local 2006-01-02T15:04")
	f.String("email", "", "delivery target: email address or telegram:<chat id>")
	f.String("notes", "", "free-form notes")
	f.Int("quantity", 0, "prescribed doses")
	f.Int("quantity-left", 0, "doses on hand (default: --quantity)")
	_ = addCmd.MarkFlagRequired("name")

	f = editCmd.Flags()
	f.String("name", "", "medication name")
	f.String("dosage", "", "dosage text")
	f.String("frequency", "", "frequency text")
	f.String("start", "", `first dose; "" clears it`)
	f.String("email", "", "delivery target")
	f.String("notes", "", "free-form notes")
	f.Int("quantity", 0, "prescribed doses")
	f.Int("quantity-left", 0, "doses on hand")

	historyCmd.Flags().Int("limit", 20, "maximum entries")
}
