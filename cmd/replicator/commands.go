package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/replicator/internal/importer"
	"github.com/kartikbazzad/bunbase/replicator/internal/mapping"
	"github.com/kartikbazzad/bunbase/replicator/internal/oplog"
	"github.com/kartikbazzad/bunbase/replicator/internal/postgres"
	"github.com/kartikbazzad/bunbase/replicator/internal/progress"
	"github.com/kartikbazzad/bunbase/replicator/internal/replay"
	"github.com/kartikbazzad/bunbase/replicator/internal/server"
)

func replayCmd() *cobra.Command {
	var dryRun bool
	var fromSeconds uint32

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Tail the oplog and apply it to the replica tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			src, err := a.openMongo(ctx)
			if err != nil {
				return err
			}

			var (
				m       *mapping.Mapping
				tracker progress.Tracker
				memory  map[string]*mapping.Memory
				pingers = map[string]server.Pinger{}
			)
			if dryRun {
				m, memory = memoryMapping(a.cfg.Namespaces)
				tracker = progress.NewMemory(oplog.Timestamp{Seconds: fromSeconds})
				a.logger.Info("Dry run: changes are applied in memory only")
			} else {
				db, err := a.openPostgres(ctx)
				if err != nil {
					return err
				}
				pingers["postgres"] = func(ctx context.Context) error { return db.Pool.Ping(ctx) }
				m = mapping.New()
				for ns, t := range a.tables(db) {
					m.Add(ns, t)
				}
				if tracker, err = a.openTracker(ctx); err != nil {
					return err
				}
			}

			driver := replay.New(src, m, tracker, a.cfg.ReplayOptions(), a.logger.With("component", "replay"))

			srvCtx, cancelServer := context.WithCancel(ctx)
			defer cancelServer()
			serverErr := make(chan error, 1)
			if a.cfg.Server.Enabled {
				srv := server.New(a.cfg.Server.Addr, driver, pingers, a.logger.With("component", "server"))
				go func() { serverErr <- srv.Run(srvCtx) }()
			}

			runErr := driver.Run(ctx)
			if dryRun {
				for ns, t := range memory {
					a.logger.Info("Dry run result", "ns", ns, "table", t.Name, "rows", t.Len())
				}
			}
			if a.cfg.Server.Enabled {
				if runErr == nil {
					// Keep serving status until shutdown when replay drained.
					<-ctx.Done()
				}
				cancelServer()
				if err := <-serverErr; err != nil && runErr == nil {
					runErr = fmt.Errorf("admin server: %w", err)
				}
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Apply to in-memory tables without writing to PostgreSQL")
	cmd.Flags().Uint32Var(&fromSeconds, "from", 0, "Dry run: start after this oplog second")
	return cmd
}

func createTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-tables",
		Short: "Create the replica tables and the progress table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			db, err := a.openPostgres(ctx)
			if err != nil {
				return err
			}
			for _, ns := range a.cfg.Namespaces {
				if err := postgres.CreateTable(ctx, db.Pool, ns.Schema, ns.Table); err != nil {
					return err
				}
				a.logger.Info("Table ready", "ns", ns.Namespace, "schema", ns.Schema, "table", ns.Table)
			}
			if _, err := a.openTracker(ctx); err != nil {
				return err
			}
			a.logger.Info("Progress table ready", "driver", a.cfg.Progress.Driver, "table", a.cfg.Progress.Table)
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	var noRecord bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Copy every mapped collection into its table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			src, err := a.openMongo(ctx)
			if err != nil {
				return err
			}
			db, err := a.openPostgres(ctx)
			if err != nil {
				return err
			}

			var tracker progress.Tracker
			if !noRecord {
				if tracker, err = a.openTracker(ctx); err != nil {
					return err
				}
			}

			tables := a.tables(db)
			targets := make([]importer.Target, 0, len(a.cfg.Namespaces))
			for _, ns := range a.cfg.Namespaces {
				targets = append(targets, importer.Target{Namespace: ns.Namespace, Writer: tables[ns.Namespace]})
			}

			im := importer.New(src, tracker, a.cfg.Import, a.logger.With("component", "import"))
			head, results, err := im.Run(ctx, targets)
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", r.Namespace, r.Documents)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "head\t%s\n", head)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "Do not record the oplog head as the watermark")
	return cmd
}

func progressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Inspect or override the replay watermark",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the watermark",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			tracker, err := a.openTracker(ctx)
			if err != nil {
				return err
			}
			ts, err := tracker.Latest(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatTimestamp(ts))
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set SECONDS ORDINAL",
		Short: "Overwrite the watermark",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseTimestamp(args[0], args[1])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			tracker, err := a.openTracker(ctx)
			if err != nil {
				return err
			}
			if err := tracker.Record(ctx, ts); err != nil {
				return err
			}
			a.logger.Info("Watermark set", "watermark", ts.String())
			fmt.Fprintln(cmd.OutOrStdout(), formatTimestamp(ts))
			return nil
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}

func parseTimestamp(seconds, ordinal string) (oplog.Timestamp, error) {
	s, err := strconv.ParseUint(seconds, 10, 32)
	if err != nil {
		return oplog.Timestamp{}, fmt.Errorf("invalid seconds %q: %w", seconds, err)
	}
	o, err := strconv.ParseUint(ordinal, 10, 32)
	if err != nil {
		return oplog.Timestamp{}, fmt.Errorf("invalid ordinal %q: %w", ordinal, err)
	}
	return oplog.Timestamp{Seconds: uint32(s), Ordinal: uint32(o)}, nil
}

func formatTimestamp(ts oplog.Timestamp) string {
	return fmt.Sprintf("%d\t%d\t%s", ts.Seconds, ts.Ordinal, ts.Time().Format("2006-01-02T15:04:05Z"))
}
