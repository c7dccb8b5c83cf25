package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/tgmirror/ferry/internal/pool"
)

var sessionsHwd = &SessionsRunner{}

type SessionsRunner struct{}

func (r *SessionsRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Manage the session pool",
		Commands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "Connect every configured session and print its state",
				Flags:  []cli.Flag{configFlag()},
				Action: r.check,
			},
		},
	}
}

func (r *SessionsRunner) check(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err = initLogger(cfg.Logging); err != nil {
		return fmt.Errorf("init logger error: %w", err)
	}

	p, err := buildPool(cfg)
	if err != nil {
		return err
	}
	defer shutdownPool(p)

	n, bringErr := p.BringOnline(ctx)

	fmt.Println()
	for _, info := range p.Snapshot() {
		fmt.Printf("  %-16s ", info.Name)
		stateColor(info.State).Printf("%-10s", info.State)
		if info.User != "" {
			cDim.Printf("  %s", info.User)
		}
		if info.Reason != "" {
			cDim.Printf("  %s", info.Reason)
		}
		if info.RateLimitedUntil.After(time.Now()) {
			cDim.Printf("  rate limited until %s", info.RateLimitedUntil.Format(time.RFC3339))
		}
		fmt.Println()
	}
	fmt.Println()

	if bringErr != nil {
		return fmt.Errorf("bring sessions online: %w", bringErr)
	}
	cSuccess.Printf("  %d/%d sessions online\n", n, len(cfg.Sessions.Names))
	return nil
}

func stateColor(s pool.State) *color.Color {
	switch s {
	case pool.StateOnline:
		return cSuccess
	case pool.StateFailed:
		return cError
	default:
		return cDim
	}
}
