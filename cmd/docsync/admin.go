package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/DocSync/internal/adapter/postgres"
	"github.com/Strob0t/DocSync/internal/config"
	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/port/remote"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "version":
		return runAdminVersion(args[1:])
	case "tabs":
		return runAdminTabs(args[1:])
	case "check-token":
		return runAdminCheckToken(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: docsync admin <command> [options]

Commands:
  migrate       Apply pending database migrations
  rollback      Roll back database migrations
  version       Print the current migration version
  tabs          Show the saved tab state of a repository
  check-token   Verify that a remote credential can read a repository
  help          Show this help message

Examples:
  docsync admin migrate
  docsync admin rollback --steps 1
  docsync admin tabs --repo acme/handbook
  docsync admin check-token --repo acme/handbook
`)
}

func loadAdminConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is not configured (DATABASE_URL)")
	}
	return cfg, nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}
	if err := postgres.RunMigrations(context.Background(), cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Migrations applied.")
	return nil
}

func runAdminRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return fmt.Errorf("--steps must be at least 1")
	}
	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}
	if err := postgres.RollbackMigrations(context.Background(), cfg.Postgres.DSN, *steps); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s).\n", *steps)
	return nil
}

func runAdminVersion(args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}
	fmt.Println(v)
	return nil
}

func runAdminTabs(args []string) error {
	fs := flag.NewFlagSet("tabs", flag.ContinueOnError)
	full := fs.String("repo", "", "repository as owner/name (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := repo.ParseRef(*full)
	if err != nil {
		return fmt.Errorf("--repo: %w", err)
	}
	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	tabs, err := postgres.NewTabStore(pool).LoadTabs(ctx, ref.Key())
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load tabs: %w", err)
	}
	if tabs == nil || len(tabs.OpenTabs) == 0 {
		fmt.Println("No saved tabs.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PATH\tACTIVE")
	for _, p := range tabs.OpenTabs {
		_, _ = fmt.Fprintf(w, "%s\t%t\n", p, p == tabs.ActivePath)
	}
	_, _ = fmt.Fprintf(w, "\nupdated %s\n", tabs.UpdatedAt.Format(time.RFC3339))
	return w.Flush()
}

func runAdminCheckToken(args []string) error {
	fs := flag.NewFlagSet("check-token", flag.ContinueOnError)
	full := fs.String("repo", "", "repository as owner/name (required)")
	provider := fs.String("provider", "", "remote provider (defaults to the configured one)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref, err := repo.ParseRef(*full)
	if err != nil {
		return fmt.Errorf("--repo: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	name := *provider
	if name == "" {
		name = cfg.Remote.Provider
	}

	// The token is never accepted as a flag so it stays out of shell history.
	token, err := promptPassword("Token: ")
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	token = strings.TrimSpace(token)

	p, err := remote.New(name, remoteConfig(cfg.Remote))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := p.Open(ctx, ref, token)
	if err != nil {
		return err
	}
	resolved, err := client.Repository(ctx)
	if err != nil {
		return fmt.Errorf("read %s: %w", ref.Key(), err)
	}
	branches, err := client.ListBranches(ctx)
	if err != nil {
		return fmt.Errorf("list branches: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Token can read %s (default branch %s, %d branch(es)).\n",
		resolved.Key(), resolved.DefaultBranch, len(branches))
	return nil
}

// promptPassword reads a secret from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after password input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
