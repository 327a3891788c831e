package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/reservation-engine/api"
	"github.com/warp/reservation-engine/generic"
)

// parseAt reads an instant as RFC3339, or as local wall time in loc.
func parseAt(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339 or YYYY-MM-DD[THH:MM]", s)
}

func (c *cli) sweepCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation sweep",
		Long: `Run one reconciliation sweep and record it

--at runs the sweep as if the clock read the given time, which is useful
for replaying a missed night. Times without a zone are read in TIMEZONE.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var clock generic.Clock = generic.RealClock{}
			if at != "" {
				t, err := parseAt(at, c.cfg.Location())
				if err != nil {
					return err
				}
				clock = generic.NewManualClock(t)
			}

			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			engine := c.engine(store, clock, cmd.ErrOrStderr())
			scheduler := api.NewReconciliationScheduler(engine, store)
			scheduler.Logger = engine.Logger
			report, err := scheduler.RunOnce(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sweep at %s: processed %d\n", report.At.Format(time.RFC3339), report.Processed())
			fmt.Fprintf(out, "  no-shows:          %d\n", report.NoShows)
			fmt.Fprintf(out, "  completions:       %d\n", report.Completions)
			fmt.Fprintf(out, "  lapsed approvals:  %d\n", report.LapsedApprovals)
			fmt.Fprintf(out, "  reminders:         %d\n", report.Reminders)
			fmt.Fprintf(out, "  lapsed offers:     %d\n", report.LapsedOffers)
			fmt.Fprintf(out, "  expired entries:   %d\n", report.ExpiredEntries)
			fmt.Fprintf(out, "  series generated:  %d (skipped %d)\n", report.SeriesGenerated, report.Skipped)
			for _, f := range report.Failures {
				fmt.Fprintf(out, "  failed %s %s: %v\n", f.Kind, f.ID, f.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Sweep as of this time (default: now)")
	return cmd
}

func (c *cli) sweepsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sweeps",
		Short: "Show recent sweep runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListSweepRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tPROCESSED\tNO-SHOWS\tCOMPLETIONS\tSERIES\tFAILURES")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n",
					r.At.Format(time.RFC3339), r.Processed(), r.NoShows, r.Completions, r.SeriesGenerated, len(r.Failures))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func (c *cli) generateSeriesCmd() *cobra.Command {
	var upTo string
	cmd := &cobra.Command{
		Use:   "generate-series <series-id>",
		Short: "Materialize a recurring series up to a date",
		Long: `Materialize a recurring series up to a date (inclusive)

Occurrences that clash with existing bookings, closures or limits are
skipped and listed; generation resumes after the last date handled.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if upTo == "" {
				return fmt.Errorf("--up-to is required")
			}
			date, err := generic.ParseDate(upTo)
			if err != nil {
				return fmt.Errorf("--up-to: %w", err)
			}

			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			engine := c.engine(store, generic.RealClock{}, cmd.ErrOrStderr())
			report, err := engine.GenerateSeriesUpTo(cmd.Context(), generic.SystemActor(), generic.SeriesID(args[0]), date)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "series %s: %s..%s created %d, skipped %d\n",
				report.SeriesID, report.From, report.To, len(report.Created), len(report.Skipped))
			for _, id := range report.Created {
				fmt.Fprintf(out, "  created %s\n", id)
			}
			for _, s := range report.Skipped {
				fmt.Fprintf(out, "  skipped %s: %s\n", s.Date, s.Reason)
			}
			if report.Watermark != nil {
				fmt.Fprintf(out, "  generated through %s\n", *report.Watermark)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&upTo, "up-to", "", "Last date to generate (YYYY-MM-DD)")
	return cmd
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		user   string
		role   string
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := generic.Actor{ID: generic.UserID(user), Role: generic.Role(role)}
			if actor.ID == "" {
				return fmt.Errorf("--user is required")
			}
			if !actor.Role.Valid() || actor.Role == generic.RoleSystem {
				return fmt.Errorf("invalid role %q", role)
			}
			token, err := api.IssueToken([]byte(secret), actor, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User ID (subject)")
	cmd.Flags().StringVar(&role, "role", string(generic.RoleStudent), "Role claim")
	cmd.Flags().StringVar(&secret, "secret", c.cfg.JWTSecret, "HMAC secret (default: JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}
