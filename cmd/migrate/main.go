package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/repartos-backend/pkg/config"
	"github.com/angelmondragon/repartos-backend/pkg/db"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
	"github.com/angelmondragon/repartos-backend/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

// source is the migration set to run: the directory given by -dir, or the
// files compiled into the binary.
func (o options) source() fs.FS {
	if o.dir == "" {
		return migrate.Embedded()
	}
	return os.DirFS(o.dir)
}

// offline commands only touch migration files.
var offline = map[string]func(opts options) error{
	"create": func(opts options) error {
		if opts.name == "" {
			return fmt.Errorf("missing -name for create")
		}
		dir := opts.dir
		if dir == "" {
			dir = migrate.DefaultDir
		}
		path, err := migrate.Create(dir, opts.name, time.Now())
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	},
	"validate": func(opts options) error {
		if err := migrate.Validate(opts.source()); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	},
}

type step func(ctx context.Context, m *migrate.Migrator, opts options) ([]migrate.Applied, error)

// online commands run against the configured database.
var online = map[string]step{
	"up":      func(ctx context.Context, m *migrate.Migrator, _ options) ([]migrate.Applied, error) { return m.Up(ctx) },
	"down":    func(ctx context.Context, m *migrate.Migrator, _ options) ([]migrate.Applied, error) { return m.Down(ctx) },
	"redo":    func(ctx context.Context, m *migrate.Migrator, _ options) ([]migrate.Applied, error) { return m.Redo(ctx) },
	"status":  printStatus,
	"version": toVersion,
}

func toVersion(ctx context.Context, m *migrate.Migrator, opts options) ([]migrate.Applied, error) {
	if opts.version == "" {
		return nil, fmt.Errorf("missing -version for version command")
	}
	return m.To(ctx, opts.version)
}

func printStatus(ctx context.Context, m *migrate.Migrator, _ options) ([]migrate.Applied, error) {
	rows, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tFILE")
	for _, r := range rows {
		state := "pending"
		if r.Applied {
			state = "applied"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", r.Version, state, r.Path)
	}
	return nil, w.Flush()
}

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: "+strings.Join(commandNames(), "|"))
	var opts options
	flag.StringVar(&opts.dir, "dir", "", "migrations directory (default: the embedded migrations; create writes to "+migrate.DefaultDir+")")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	if run, ok := offline[*cmd]; ok {
		if err := run(opts); err != nil {
			fmt.Fprintf(os.Stderr, "%s failed: %v\n", *cmd, err)
			os.Exit(1)
		}
		return
	}
	run, ok := online[*cmd]
	if !ok {
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(2)
	}

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": opts.dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)
	migrator, err := migrate.New(sqlDB, opts.source())
	requireResource(ctx, logg, "migrations", err)

	logg.Info(ctx, "running migration command")
	results, err := run(ctx, migrator, opts)
	for _, r := range results {
		logg.Info(logg.WithFields(ctx, map[string]any{"version": r.Version, "file": r.Path, "duration_ms": r.Millis}), "migration applied")
	}
	if err != nil {
		logg.Error(ctx, "migration command failed", err)
		dbClient.Close()
		os.Exit(1)
	}
	logg.Info(ctx, "migration command completed")
}

func commandNames() []string {
	names := make([]string, 0, len(offline)+len(online))
	for name := range offline {
		names = append(names, name)
	}
	for name := range online {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
