package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/opal-lang/datacube/runtime/executor"
	"github.com/opal-lang/datacube/runtime/snapshot"
)

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 200 * time.Millisecond

func (a *app) runCmd() *cobra.Command {
	var (
		dataPath    string
		snapshotDir string
		strict      bool
		watch       bool
		show        []string
	)
	cmd := &cobra.Command{
		Use:   "run PLAN",
		Short: "Execute a plan against storage units",
		Example: `  datacube run ndvi.yaml --data units.json
  datacube run ndvi.yaml --data units.json --snapshot-dir ./snapshots --show median_t`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			planPath := args[0]

			src, closeSrc, err := a.openSource(ctx, dataPath)
			if err != nil {
				return err
			}
			defer closeSrc()

			tr := a.tracing(ctx)
			defer func() { _ = tr.Shutdown(context.Background()) }()

			store, err := a.store(ctx, snapshotDir)
			if err != nil {
				return err
			}
			x := a.executor(src, strict, tr.Tracer(), nil)

			once := func() error {
				return a.runPlan(ctx, x, store, planPath, show)
			}
			if !watch {
				return once()
			}
			return a.watch(ctx, []string{planPath}, once)
		},
	}
	cmd.Flags().StringVar(&dataPath, "data", "", "JSON file of storage units")
	cmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "Save results to this directory")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on tasks with unknown operations")
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-run when the plan file changes")
	cmd.Flags().StringSliceVar(&show, "show", nil, "Print these results as JSON")
	return cmd
}

func (a *app) runPlan(ctx context.Context, x *executor.Executor, store snapshot.Store, planPath string, show []string) error {
	p, err := loadPlan(planPath)
	if err != nil {
		return err
	}
	res, err := x.Execute(ctx, p)
	a.printSummary(res)
	if err != nil {
		return err
	}

	if store != nil {
		n, err := snapshot.SaveAll(ctx, store, x)
		if err != nil {
			return err
		}
		a.logger.Info("saved snapshots", "count", n)
	}
	for _, name := range show {
		e, ok := x.Entry(name)
		if !ok {
			return &CLIError{
				Type:    "usage",
				Message: fmt.Sprintf("no result named %q", name),
				Hint:    fmt.Sprintf("results: %v", x.Names()),
			}
		}
		if err := writeJSON(a.stdout, map[string]entryJSON{name: toJSON(e)}); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) printSummary(res *executor.Result) {
	color := a.useColor()
	for _, t := range res.Timings {
		mark := Colorize("ok", ColorGreen, color)
		switch t.Status {
		case "skipped":
			mark = Colorize("skipped", ColorYellow, color)
		case "error":
			mark = Colorize("error", ColorRed, color)
		}
		_, _ = fmt.Fprintf(a.stdout, "%-8s %-20s %-12s %s\n", mark, t.Task, t.Kind, Colorize(t.Duration.Round(time.Microsecond).String(), ColorGray, color))
	}
	_, _ = fmt.Fprintf(a.stdout, "ran %d tasks, skipped %d in %s\n", res.TasksRun, len(res.Skipped), res.Duration.Round(time.Microsecond))
}

// watch calls fn once, then again whenever one of paths is written, until
// ctx is done. Failures of fn are reported and do not stop the watch.
func (a *app) watch(ctx context.Context, paths []string, fn func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	targets := map[string]bool{}
	dirs := map[string]bool{}
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	// Watch directories: editors replace files on save.
	for d := range dirs {
		if err := watcher.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}

	report := func() {
		if err := fn(); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			FormatError(a.stderr, err, ShouldUseColor(a.stderr, a.noColor))
		}
	}
	report()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, _ := filepath.Abs(ev.Name)
			if !targets[abs] || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			a.logger.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watch error", "error", err)
		case <-fire:
			fire = nil
			_, _ = fmt.Fprintln(a.stdout, "--- re-running")
			report()
		}
	}
}
