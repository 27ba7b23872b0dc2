package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"prism-todo/domain"
	"prism-todo/offline"
	"prism-todo/store"
)

func withApp(cmd *cobra.Command, configPath string, fn func(ctx context.Context, app *store.App) error) error {
	rt, err := openRuntime(configPath)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := rt.openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func printJSON(w io.Writer, v any) error {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// resolveTask accepts a full id or a unique prefix of one.
func resolveTask(app *store.App, ref string) (string, error) {
	if _, err := app.Tasks.Get(ref); err == nil {
		return ref, nil
	}
	var match string
	for _, t := range app.Tasks.Tasks() {
		if strings.HasPrefix(t.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("task id %q is ambiguous", ref)
			}
			match = t.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", store.ErrTaskNotFound, ref)
	}
	return match, nil
}

func tasksCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{Use: "tasks", Short: "List and edit tasks"}
	cmd.AddCommand(tasksListCmd(configPath), tasksAddCmd(configPath))
	cmd.AddCommand(taskToggleCmd(configPath, "done", "Toggle a task's completion", (*store.TaskStore).ToggleCompleted))
	cmd.AddCommand(taskToggleCmd(configPath, "pin", "Toggle a task's pin", (*store.TaskStore).TogglePinned))
	cmd.AddCommand(tasksRemoveCmd(configPath))
	return cmd
}

func tasksListCmd(configPath *string) *cobra.Command {
	var (
		filter, sort, query string
		asJSON              bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the task view",
		Long: `Show tasks through the saved filter and sort, or the ones given.

Filters: all, completed, pending, pinned, overdue, high_priority, medium_priority,
low_priority, category_<A>_<B>. Sorts: custom, alphabetical, dateCreated, dueDate,
priority, status, high_priority, medium_priority, low_priority.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(_ context.Context, app *store.App) error {
				if filter != "" {
					app.Tasks.SetFilterMode(domain.ParseFilterMode(filter))
				}
				if sort != "" {
					app.Tasks.SetSortMode(domain.ParseSortMode(sort))
				}
				view := app.Tasks.SetSearchQuery(query)
				if asJSON {
					return printJSON(cmd.OutOrStdout(), view)
				}
				return printTasks(cmd.OutOrStdout(), app, view)
			})
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "filter mode")
	cmd.Flags().StringVarP(&sort, "sort", "s", "", "sort mode")
	cmd.Flags().StringVarP(&query, "query", "q", "", "search text")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printTasks(w io.Writer, app *store.App, view store.View) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDONE\tPIN\tPRIORITY\tTITLE\tCATEGORIES\tDUE")
	now := app.Clock.Now()
	for _, t := range view.Tasks {
		labels := make([]string, 0, len(t.Categories))
		for _, v := range t.Categories {
			c := app.Categories.Resolve(v)
			labels = append(labels, c.Label+" "+c.Value)
		}
		due := ""
		if t.EndDate != nil {
			due = t.EndDate.Local().Format("2006-01-02 15:04")
			if t.Overdue(now) {
				due += " (overdue)"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s %s\t%s\t%s\n",
			shortID(t.ID), mark(t.Completed), mark(t.Pinned), t.Priority, t.Emoji, t.Title,
			strings.Join(labels, ", "), due)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func mark(b bool) string {
	if b {
		return "x"
	}
	return ""
}

func tasksAddCmd(configPath *string) *cobra.Command {
	var (
		draft      domain.TaskDraft
		priority   string
		start, due string
	)
	cmd := &cobra.Command{
		Use:   "add <title>...",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draft.Title = strings.Join(args, " ")
			draft.Priority = domain.Priority(priority)
			if !draft.Priority.Known() {
				return &domain.ValidationError{Field: "priority", Reason: "must be low, medium or high"}
			}
			var err error
			if draft.StartDate, err = parseDate(start); err != nil {
				return err
			}
			if draft.EndDate, err = parseDate(due); err != nil {
				return err
			}
			if err := domain.ValidateTaskDraft(draft); err != nil {
				return err
			}
			return withApp(cmd, *configPath, func(ctx context.Context, app *store.App) error {
				for _, v := range draft.Categories {
					if !app.Categories.Exists(v) {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: category %q does not exist\n", v)
					}
				}
				task, err := app.Tasks.Add(ctx, draft)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), task.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&draft.Description, "description", "d", "", "task description")
	cmd.Flags().StringSliceVarP(&draft.Categories, "category", "C", nil, "category value (repeatable)")
	cmd.Flags().StringVarP(&priority, "priority", "p", string(domain.PriorityMedium), "low, medium or high")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().BoolVar(&draft.Pinned, "pin", false, "pin the task")
	cmd.Flags().StringVar(&draft.Emoji, "emoji", "", "task emoji")
	cmd.Flags().StringVar(&draft.Color, "color", "", "task color (#rrggbb or rgb())")
	return cmd
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q", s)
}

func taskToggleCmd(configPath *string, use, short string, toggle func(*store.TaskStore, context.Context, string) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, app *store.App) error {
				id, err := resolveTask(app, args[0])
				if err != nil {
					return err
				}
				task, err := toggle(app.Tasks, ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s completed=%t pinned=%t\n", shortID(task.ID), task.Completed, task.Pinned)
				return nil
			})
		},
	}
}

func tasksRemoveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, app *store.App) error {
				id, err := resolveTask(app, args[0])
				if err != nil {
					return err
				}
				return app.Tasks.Delete(ctx, id)
			})
		},
	}
}

func categoriesCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{Use: "categories", Short: "List and edit categories"}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Show categories with their progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(_ context.Context, app *store.App) error {
				stats := app.Stats()
				if asJSON {
					return printJSON(cmd.OutOrStdout(), stats)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tFAV\tCATEGORY\tCOLOR\tPROGRESS")
				for _, s := range stats {
					fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\t%d/%d (%d%%)\n",
						s.ID, mark(s.IsFavorite), s.Label, s.Value, s.Color, s.Progress.Completed, s.Progress.Total, s.Percent)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	var draft domain.CategoryDraft
	add := &cobra.Command{
		Use:   "add <value>",
		Short: "Add a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draft.Value = args[0]
			if draft.Color != "" {
				draft.Color = domain.NormalizeColor(draft.Color)
			}
			return withApp(cmd, *configPath, func(ctx context.Context, app *store.App) error {
				if app.Categories.Exists(strings.TrimSpace(draft.Value)) {
					return fmt.Errorf("category %q already exists", draft.Value)
				}
				c, err := app.Categories.Add(ctx, draft)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), c.ID)
				return nil
			})
		},
	}
	add.Flags().StringVarP(&draft.Label, "label", "l", "", "emoji label")
	add.Flags().StringVar(&draft.Color, "color", "", "color (#rrggbb or rgb())")
	add.Flags().BoolVar(&draft.IsFavorite, "favorite", false, "mark as favorite")

	fav := &cobra.Command{
		Use:   "fav <id|value>",
		Short: "Toggle a category's favorite flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, app *store.App) error {
				id := args[0]
				if c, ok := app.Categories.ByValue(id); ok {
					id = c.ID
				}
				c, err := app.Categories.ToggleFavorite(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s favorite=%t\n", c.Value, c.IsFavorite)
				return nil
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Replace all categories with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, app *store.App) error {
				return app.Categories.ResetToDefaults(ctx)
			})
		},
	}

	cmd.AddCommand(list, add, fav, reset)
	return cmd
}

func cacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Manage the offline caches"}

	warm := &cobra.Command{
		Use:   "warm",
		Short: "Install the worker: precache the manifest and drop old caches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			w, err := rt.newWorker(rt.cacheStorage(), nil)
			if err != nil {
				return err
			}
			defer w.Close()
			report, err := w.Install(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d cached, %d failed\n", report.Cache, len(report.Cached), len(report.Failed))
			for u, ferr := range report.Failed {
				fmt.Fprintf(out, "  %s: %v\n", u, ferr)
			}
			return err
		},
	}

	var keepCurrent bool
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete offline caches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			n, err := purgeCaches(cmd.Context(), rt.cacheStorage(), keepCurrent, rt.cfg.Worker.CacheName)
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d caches\n", n)
			return err
		},
	}
	purge.Flags().BoolVar(&keepCurrent, "keep-current", false, "keep the current cache generation")

	list := &cobra.Command{
		Use:   "list",
		Short: "List caches and their entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			return listCaches(cmd.Context(), cmd.OutOrStdout(), rt.cacheStorage())
		},
	}

	cmd.AddCommand(warm, purge, list)
	return cmd
}

func purgeCaches(ctx context.Context, cs offline.CacheStorage, keepCurrent bool, current string) (int, error) {
	names, err := cs.Keys(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, name := range names {
		if keepCurrent && name == current {
			continue
		}
		ok, err := cs.Delete(ctx, name)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

func listCaches(ctx context.Context, w io.Writer, cs offline.CacheStorage) error {
	names, err := cs.Keys(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		c, err := cs.Open(ctx, name)
		if err != nil {
			return err
		}
		keys, err := c.Keys(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s (%d)\n", name, len(keys))
		for _, k := range keys {
			fmt.Fprintf(w, "  %s\n", k)
		}
	}
	return nil
}

func storageCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{Use: "storage", Short: "Manage the state backend"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the state table if the tables backend is used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.ensureStorage(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "storage %s ready\n", rt.cfg.Storage.Backend)
			return nil
		},
	})
	return cmd
}
