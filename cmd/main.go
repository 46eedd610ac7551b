package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"todo-proj/internal/config"
	"todo-proj/internal/result"
	"todo-proj/internal/server"
	"todo-proj/internal/store"
	"todo-proj/internal/task"
	"todo-proj/pkg/cache"
	"todo-proj/pkg/mq"
)

type app struct {
	v   *viper.Viper
	cfg *config.Config
	log *log.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:           "todo",
		Short:         "Todo list service backed by a self-upgrading SQL store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "config file (yaml, toml or json)")
	pf.String("driver", "", "database driver: sqlite3|mysql|postgres")
	pf.String("dsn", "", "database DSN or sqlite file path")
	pf.String("log-level", "", "log level")
	pf.String("log-format", "", "log format: text|json")

	root.AddCommand(a.serveCmd(), a.migrateCmd(), a.listCmd(), a.exportCmd(), a.statusCmd())
	return root
}

var flagKeys = map[string]string{
	"config":     "config",
	"driver":     "driver",
	"dsn":        "dsn",
	"log-level":  "log_level",
	"log-format": "log_format",
	"http-addr":  "http_addr",
	"static-dir": "static_dir",
	"redis-url":  "redis_url",
}

func (a *app) load(cmd *cobra.Command) error {
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := a.v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = cfg.NewLogger()
	return nil
}

// openStore connects and upgrades the schema; a failed probe aborts startup.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.New(ctx, a.cfg.Driver, a.cfg.DSN, a.log)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Driver, err)
	}
	return st, nil
}

// messaging picks Redis-backed dedup and events when redis_url is set and
// in-process ones otherwise.
func (a *app) messaging(ctx context.Context) (cache.Deduper, mq.Broker, func(), error) {
	if a.cfg.RedisURL == "" {
		return cache.NewMemory(a.cfg.IdempotencyTTL), mq.NewMemory(64), func() {}, nil
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("redis_url: %w", err)
	}
	rc := redis.NewClient(opts)
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	closeFn := func() {
		if err := rc.Close(); err != nil {
			a.log.WithError(err).Warn("redis close")
		}
	}
	return cache.NewRedis(rc, "todo:idem", a.cfg.IdempotencyTTL), mq.NewRedis(rc), closeFn, nil
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Upgrade the schema, then serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			dedup, bus, closeBus, err := a.messaging(ctx)
			if err != nil {
				return err
			}
			defer closeBus()

			mgr := task.NewManager(st, task.WithPublisher(bus, a.cfg.EventsTopic))
			srv := server.New(mgr, server.Options{
				Logger:     a.log,
				Deduper:    dedup,
				Events:     bus,
				EventTopic: a.cfg.EventsTopic,
				StaticDir:  a.cfg.StaticDir,
			})
			a.log.WithFields(log.Fields{"driver": st.Driver(), "redis": a.cfg.RedisURL != ""}).Info("todo service starting")
			return srv.ListenAndServe(ctx, a.cfg.HTTPAddr)
		},
	}
	cmd.Flags().String("http-addr", "", "listen address (default :3000)")
	cmd.Flags().String("static-dir", "", "directory of static assets served at /")
	cmd.Flags().String("redis-url", "", "redis URL for idempotency keys and events")
	return cmd
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the todos table up to the current schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := store.Open(ctx, a.cfg.Driver, a.cfg.DSN)
			if err != nil {
				return err
			}
			defer st.Close()

			rep, err := store.NewMigrator(st, a.log).Migrate(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case rep.UpToDate():
				fmt.Fprintln(out, "schema up to date")
			case rep.Created:
				fmt.Fprintln(out, "created table todos")
			}
			for _, col := range rep.Added {
				fmt.Fprintf(out, "added column %s\n", col)
			}
			for _, col := range rep.Skipped {
				fmt.Fprintf(out, "column %s already present\n", col)
			}
			if rep.Backfilled > 0 {
				fmt.Fprintf(out, "backfilled position for %d rows\n", rep.Backfilled)
			}
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print tasks in display order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			tasks, err := task.NewManager(st).List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks.")
				return nil
			}
			for _, t := range tasks {
				mark := " "
				if t.Completed {
					mark = "x"
				}
				line := fmt.Sprintf("[%s] %4d  %-4s  %s", mark, t.ID, t.Priority, t.Title)
				if t.DueDate != nil {
					line += "  (due " + *t.DueDate + ")"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var format, outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all tasks to a json, csv or pdf file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			b, err := result.NewExporter(st).Export(ctx, format)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = "todos." + format
			}
			if err := os.WriteFile(outPath, b, 0o644); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported -> %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "export format: json|csv|pdf")
	cmd.Flags().StringVar(&outPath, "out", "", "output path (default todos.<format>)")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the backend version and the columns present",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := store.Open(ctx, a.cfg.Driver, a.cfg.DSN)
			if err != nil {
				return err
			}
			defer st.Close()

			ver, err := st.ServerVersion(ctx)
			if err != nil {
				return err
			}
			cols, err := st.Columns(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "driver:  %s\n", st.Driver())
			fmt.Fprintf(out, "version: %s\n", ver)
			if len(cols) == 0 {
				fmt.Fprintln(out, "columns: (table missing)")
			} else {
				fmt.Fprintf(out, "columns: %v\n", cols)
			}
			return nil
		},
	}
}
