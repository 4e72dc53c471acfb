package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"HeadlineBot/internal/app"
	"HeadlineBot/internal/domain"
)

// errNotSucceeded makes the process exit non-zero once the result has been printed.
var errNotSucceeded = errors.New("operation did not succeed")

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest, plan and execute sweeps on their schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				return a.Run(ctx)
			})
		},
	}
}

func ingestCmd() *cobra.Command {
	return triggerCmd("ingest", "Fetch all sources once and store new negative items",
		func(ctx context.Context, a *app.Application) domain.TriggerResult {
			return a.Service().TriggerIngest(ctx)
		})
}

func planCmd() *cobra.Command {
	return triggerCmd("plan", "Plan today's posts into peak-hour slots",
		func(ctx context.Context, a *app.Application) domain.TriggerResult {
			return a.Service().TriggerPlan(ctx)
		})
}

func executeCmd() *cobra.Command {
	return triggerCmd("execute", "Publish the scheduled posts that are due",
		func(ctx context.Context, a *app.Application) domain.TriggerResult {
			return a.Service().TriggerExecute(ctx)
		})
}

func postCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "post <item-id|url>",
		Short: "Post a stored item now, subject to the publication gate",
		Long: `Post a stored item now, subject to the publication gate.

The item is named by its id (see "headlinebot items") or by its article URL.
With --comment the headline goes out first and the commentary follows as
replies to it, split to fit the post length limit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				return printResult(cmd.OutOrStdout(), a.Service().PostNow(ctx, args[0], comment))
			})
		},
	}
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "Commentary posted as a reply thread under the headline")
	return cmd
}

func itemsCmd() *cobra.Command {
	var (
		limit    int
		unposted bool
	)
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List stored items, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				items, err := a.Service().Items(ctx, domain.ItemQuery{Limit: limit, UnpostedOnly: unposted})
				if err != nil {
					return err
				}
				printItems(cmd.OutOrStdout(), items)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of items to list (0 lists all)")
	cmd.Flags().BoolVarP(&unposted, "unposted", "u", false, "Only list items that have not been posted")
	return cmd
}

func queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List pending and scheduled posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				tasks, err := a.Service().Queue(ctx)
				if err != nil {
					return err
				}
				printQueue(cmd.OutOrStdout(), tasks)
				return nil
			})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show posts in the last 24 hours and the last post time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				stats, err := a.Service().Stats(ctx)
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := app.Migrate(cmd.Context(), cfg.Database); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if jsonOutput {
				printJSON(cmd.OutOrStdout(), map[string]any{"ok": true, "driver": cfg.Database.Driver})
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema applied (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}

func triggerCmd(use, short string, run func(context.Context, *app.Application) domain.TriggerResult) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				return printResult(cmd.OutOrStdout(), run(ctx, a))
			})
		},
	}
}

func printResult(w io.Writer, res domain.TriggerResult) error {
	if jsonOutput {
		printJSON(w, res)
	} else {
		status := "ok"
		if !res.Success {
			status = "not done"
		}
		fmt.Fprintf(w, "%s: %s\n", status, res.Message)
		if res.PostID != "" {
			fmt.Fprintf(w, "post id: %s\n", res.PostID)
		}
		if res.Summary != nil {
			for _, r := range res.Summary.Results {
				if r.Outcome == domain.OutcomeSucceeded {
					continue
				}
				fmt.Fprintf(w, "  %-9s %s  %s\n", r.Outcome, r.Key, r.Reason)
			}
		}
	}

	if !res.Success {
		return errNotSucceeded
	}
	return nil
}

func printQueue(w io.Writer, tasks []domain.PublicationTask) {
	if jsonOutput {
		printJSON(w, tasks)
		return
	}
	if len(tasks) == 0 {
		fmt.Fprintln(w, "queue is empty")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCHEDULED\tSTATUS\tTASK\tTEXT")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ScheduledFor.Format(time.RFC3339), t.Status, t.ID, firstLine(t.Text))
	}
	_ = tw.Flush()
}

func printItems(w io.Writer, items []domain.StoredItem) {
	if jsonOutput {
		printJSON(w, items)
		return
	}
	if len(items) == 0 {
		fmt.Fprintln(w, "no items")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INGESTED\tID\tSCORE\tPOSTED\tSOURCE\tTITLE")
	for _, it := range items {
		posted := "-"
		if it.Posted {
			posted = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\t%s\n",
			it.IngestedAt.Format(time.RFC3339), it.ID, it.SentimentScore, posted, it.Item.Source, it.Item.Title)
	}
	_ = tw.Flush()
}

func printStats(w io.Writer, stats domain.Stats) {
	if jsonOutput {
		printJSON(w, stats)
		return
	}
	last := "never"
	if stats.LastPostedAt != nil {
		last = stats.LastPostedAt.Format(time.RFC3339)
	}
	fmt.Fprintf(w, "posts in last 24h: %d\nlast post: %s\n", stats.PostsLast24h, last)
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return line
}
