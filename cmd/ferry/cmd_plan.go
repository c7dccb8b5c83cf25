package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v3"

	"github.com/tgmirror/ferry/internal/archive"
)

var planHwd = &PlanRunner{}

type PlanRunner struct{}

func (r *PlanRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Probe an interval and print the session assignment without downloading",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "channel",
				Usage: "Source channel, @username or t.me link",
			},
			&cli.IntFlag{
				Name:  "from",
				Usage: "First message id of the interval",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "to",
				Usage: "Last message id of the interval",
			},
			&cli.IntFlag{
				Name:  "batch",
				Usage: "Messages per probe call, up to 100",
			},
			&cli.IntFlag{
				Name:  "max-clients",
				Usage: "Cap on the sessions the plan assigns to",
			},
			&cli.StringFlag{
				Name:  "metric",
				Usage: "Balance metric: file_count, message_count, size_estimate or mixed",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write the plan to a JSON file instead of stdout",
			},
		},
		Action: r.run,
	}
}

func (r *PlanRunner) run(ctx context.Context, cmd *cli.Command) error {
	channel := strings.TrimSpace(cmd.String("channel"))
	if channel == "" {
		return errors.New("--channel is required")
	}
	if !cmd.IsSet("to") {
		return errors.New("--to is required")
	}

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

	report, err := archive.NewCoordinator(p, nil).Plan(ctx, buildRunOptions(cfg, cmd, channel))
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	if out := strings.TrimSpace(cmd.String("out")); out != "" {
		if err = archive.WritePlanFile(out, report); err != nil {
			return fmt.Errorf("write plan: %w", err)
		}
		fmt.Printf("Plan written to %s\n", out)
		return nil
	}

	raw, err := sonic.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	fmt.Println(string(raw))
	return nil
}
