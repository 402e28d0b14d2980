package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/practicehub/calendar/internal/config"
	"github.com/practicehub/calendar/internal/platform/db"
	"github.com/practicehub/calendar/internal/platform/recurrence"
	"github.com/practicehub/calendar/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "calendar-server",
		Short:         "Practice calendar API server",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tenantCmd())
	root.AddCommand(seriesCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the calendar API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationFiles returns the embedded migrations unless --dir points
// elsewhere.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationFiles(dir))
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd, schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback migrations (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Fprintln(cmd.OutOrStdout(), "Drop the tenant schema and re-run 'migrate up' instead.")
			return nil
		},
	})

	return cmd
}

func printStatus(cmd *cobra.Command, schema string, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage practice tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply all migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, db.NewMigrator(pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// seriesCmd previews the occurrences a rule would produce without touching
// the database.
func seriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "series",
		Short: "Inspect recurrence rules",
	}

	expandCmd := &cobra.Command{
		Use:   "expand",
		Short: "Print the occurrences of a recurring appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleStr, _ := cmd.Flags().GetString("rule")
			startStr, _ := cmd.Flags().GetString("start")
			duration, _ := cmd.Flags().GetDuration("duration")
			until, _ := cmd.Flags().GetString("until")
			count, _ := cmd.Flags().GetInt("count")
			maxCap, _ := cmd.Flags().GetInt("max")

			start, err := time.Parse(time.RFC3339, startStr)
			if err != nil {
				return fmt.Errorf("--start must be RFC 3339: %w", err)
			}
			rule, term, err := recurrence.ParseRule(ruleStr)
			if err != nil {
				return err
			}
			if count > 0 {
				term.Count = count
			}
			if until != "" {
				d, err := time.Parse("2006-01-02", until)
				if err != nil {
					return fmt.Errorf("--until must be YYYY-MM-DD: %w", err)
				}
				term.EndDate = &d
			}

			occs, err := recurrence.NewExpander(0, maxCap).Expand(start, start.Add(duration), rule, term)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "RRULE:%s\n", recurrence.Format(rule, term, start.Location()))
			for i, o := range occs {
				fmt.Fprintf(out, "%3d  %s  %s\n", i+1, o.Start.Format(time.RFC3339), o.End.Format(time.RFC3339))
			}
			return nil
		},
	}
	expandCmd.Flags().String("rule", "", "Cadence keyword or RRULE body, e.g. FREQ=WEEKLY;BYDAY=MO")
	expandCmd.Flags().String("start", "", "Anchor start in RFC 3339")
	expandCmd.Flags().Duration("duration", time.Hour, "Appointment length")
	expandCmd.Flags().String("until", "", "Last date of the series (YYYY-MM-DD)")
	expandCmd.Flags().Int("count", 0, "Number of occurrences including the anchor")
	expandCmd.Flags().Int("max", recurrence.MaxOccurrences, "Safety cap on occurrences")
	_ = expandCmd.MarkFlagRequired("rule")
	_ = expandCmd.MarkFlagRequired("start")

	cmd.AddCommand(expandCmd)
	return cmd
}
