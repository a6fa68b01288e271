package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/atproject/projectone/internal/app/runtime"
	"github.com/atproject/projectone/internal/config"
	"github.com/atproject/projectone/internal/httputil"
	"github.com/atproject/projectone/internal/platform/database"
	"github.com/atproject/projectone/internal/platform/migrations"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			application, err := runtime.NewApplication(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return application.Run(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (all of them unless --steps is set)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), func(m *migrations.Migrator) error {
				if err := m.Down(steps); err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 0, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), func(m *migrations.Migrator) error {
					if err := m.Up(); err != nil {
						return err
					}
					return printVersion(cmd, m)
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), func(m *migrations.Migrator) error {
					return printVersion(cmd, m)
				})
			},
		},
	)
	return cmd
}

func withMigrator(ctx context.Context, fn func(m *migrations.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := migrations.Open(ctx, cfg.Database, db)
	if err != nil {
		return err
	}
	return errors.Join(fn(m), m.Close())
}

func printVersion(cmd *cobra.Command, m *migrations.Migrator) error {
	v, dirty, ok, err := m.Version()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch {
	case !ok:
		fmt.Fprintln(out, "schema version: none")
	case dirty:
		fmt.Fprintf(out, "schema version: %d (dirty)\n", v)
	default:
		fmt.Fprintf(out, "schema version: %d\n", v)
	}
	return nil
}

type readiness struct {
	Healthy bool `json:"healthy"`
	Checks  []struct {
		Name    string `json:"name"`
		Healthy bool   `json:"healthy"`
		Error   string `json:"error"`
	} `json:"checks"`
}

func newHealthcheckCmd() *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Query a running server's readiness endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := httputil.NewClient(httputil.ClientConfig{
				BaseURL:    url,
				Timeout:    timeout,
				MaxRetries: -1,
			})
			resp, err := client.Get(cmd.Context(), "/readyz")
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			// /readyz answers 503 with the same report body when a check fails
			body, _, err := httputil.ReadAllWithLimit(resp.Body, 1<<20)
			if err != nil {
				return fmt.Errorf("read readiness report: %w", err)
			}
			var report readiness
			if err := json.Unmarshal(body, &report); err != nil {
				return fmt.Errorf("unexpected readiness response (status %d): %w", resp.StatusCode, err)
			}

			out := cmd.OutOrStdout()
			for _, c := range report.Checks {
				status := "ok"
				if !c.Healthy {
					status = "failing: " + c.Error
				}
				fmt.Fprintf(out, "%s: %s\n", c.Name, status)
			}
			if !report.Healthy {
				var failing []string
				for _, c := range report.Checks {
					if !c.Healthy {
						failing = append(failing, c.Name)
					}
				}
				return fmt.Errorf("not ready: %s", strings.Join(failing, ", "))
			}
			fmt.Fprintln(out, "ready")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:8080", "base URL of the server")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}
