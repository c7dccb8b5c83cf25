package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tgmirror/ferry/internal/archive"
	"github.com/tgmirror/ferry/internal/config"
	"github.com/tgmirror/ferry/internal/monitor"
	"github.com/tgmirror/ferry/internal/notify"
	"github.com/tgmirror/ferry/internal/pkg/logs"
	"github.com/tgmirror/ferry/internal/schedule"
)

var archiveHwd = &ArchiveRunner{}

type ArchiveRunner struct{}

func (r *ArchiveRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "Archive a message id interval of a channel",
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
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Storage mode: raw, upload or hybrid",
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "Target channel for upload and hybrid modes",
			},
			&cli.StringFlag{
				Name:  "download-dir",
				Usage: "Root directory for channel archives",
			},
			&cli.IntFlag{
				Name:  "batch",
				Usage: "Messages per fetch call, up to 100",
			},
			&cli.IntFlag{
				Name:  "max-clients",
				Usage: "Cap on the sessions used by this run",
			},
			&cli.StringFlag{
				Name:  "metric",
				Usage: "Balance metric: file_count, message_count, size_estimate or mixed",
			},
			&cli.BoolFlag{
				Name:  "forward-text",
				Usage: "Forward text-only messages to the target channel",
			},
			&cli.BoolFlag{
				Name:  "bundle",
				Usage: "Pack the finished channel directory into a .tar.gz",
			},
			&cli.StringFlag{
				Name:  "schedule",
				Usage: "Re-run on a cron expression or interval instead of once",
			},
		},
		Action: r.run,
	}
}

func (r *ArchiveRunner) run(ctx context.Context, cmd *cli.Command) error {
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

	opts := buildRunOptions(cfg, cmd, channel)
	opts.Observer = func(p archive.Progress) {
		logs.Debug("[progress] %s: %d processed, %d ok, %d failed", p.Session, p.Processed, p.Succeeded, p.Failed)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	go func() {
		select {
		case sig := <-signalCh:
			logs.CtxWarn(ctx, "received %s, stopping the run...", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	p, err := buildPool(cfg)
	if err != nil {
		return err
	}
	defer shutdownPool(p)

	if cfg.Monitor.Bind != "" {
		mon := monitor.NewServer(monitor.Options{Bind: cfg.Monitor.Bind, Pool: p})
		if err = mon.Start(ctx); err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
		defer func() { _ = mon.Stop(context.Background()) }()
	}

	var notifier *notify.Notifier
	if cfg.Notify.Token != "" {
		if notifier, err = notify.New(cfg.Notify.Token, cfg.Notify.Chat); err != nil {
			return fmt.Errorf("create notifier: %w", err)
		}
	}

	coord := archive.NewCoordinator(p, nil)
	history := archive.NewHistory(opts.DownloadDir)

	bundle := cfg.Archive.Bundle
	if cmd.IsSet("bundle") {
		bundle = cmd.Bool("bundle")
	}

	runOnce := func(ctx context.Context) error {
		report, err := coord.Run(ctx, opts)
		if report == nil {
			return err
		}
		r.afterRun(ctx, report, history, notifier, bundle)
		return err
	}

	expr := cfg.Schedule.Expr
	if cmd.IsSet("schedule") {
		expr = strings.TrimSpace(cmd.String("schedule"))
	}
	if expr == "" {
		if err = runOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	sched, err := schedule.Parse(expr)
	if err != nil {
		return fmt.Errorf("parse schedule: %w", err)
	}
	logs.CtxInfo(ctx, "archiving %s on schedule %s, press Ctrl+C to stop", channel, sched)
	if err = schedule.NewRunner(sched, runOnce).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// afterRun journals the report and fires the side channels. It runs for
// canceled and failed runs too, so partial work is never lost silently.
func (r *ArchiveRunner) afterRun(ctx context.Context, report *archive.Report, history *archive.History, notifier *notify.Notifier, bundle bool) {
	if err := history.Append(report); err != nil {
		logs.CtxWarn(ctx, "append run history: %v", err)
	}

	if bundle && report.Dir != "" && report.Status == archive.StatusOK {
		path, err := archive.Bundle(report.Dir)
		if err != nil {
			logs.CtxWarn(ctx, "bundle %s: %v", report.Dir, err)
		} else {
			logs.CtxInfo(ctx, "bundled archive at %s", path)
		}
	}

	if notifier != nil {
		notifier.RunFinished(context.WithoutCancel(ctx), report)
	}
}

// buildRunOptions merges the config with the per-invocation flag
// overrides. Flags win only when actually set, so a config value is never
// clobbered by a flag default.
func buildRunOptions(cfg *config.Config, cmd *cli.Command, channel string) archive.RunOptions {
	a := cfg.Archive

	mode := a.Mode
	if cmd.IsSet("mode") {
		mode = cmd.String("mode")
	}
	target := a.Target
	if cmd.IsSet("target") {
		target = cmd.String("target")
	}
	downloadDir := a.DownloadDir
	if cmd.IsSet("download-dir") {
		downloadDir = cmd.String("download-dir")
	}
	batch := a.BatchSize
	if cmd.IsSet("batch") {
		batch = int(cmd.Int("batch"))
	}
	maxClients := a.MaxClients
	if cmd.IsSet("max-clients") {
		maxClients = int(cmd.Int("max-clients"))
	}
	metric := a.Metric
	if cmd.IsSet("metric") {
		metric = cmd.String("metric")
	}
	forwardText := a.ForwardText
	if cmd.IsSet("forward-text") {
		forwardText = cmd.Bool("forward-text")
	}

	return archive.RunOptions{
		Channel:     channel,
		StartID:     int(cmd.Int("from")),
		EndID:       int(cmd.Int("to")),
		Mode:        archive.StorageMode(mode),
		Target:      target,
		DownloadDir: downloadDir,

		BatchSize:        batch,
		MaxClients:       maxClients,
		Metric:           archive.Metric(metric),
		PreferLargeFirst: *a.PreferLargeGroupsFirst,
		SplitThreshold:   a.SplitThreshold,

		PreserveCaptions:  *a.PreserveCaptions,
		PreserveAlbums:    *a.PreserveMediaGroups,
		ForwardText:       forwardText,
		UploadDelay:       time.Duration(*a.UploadDelaySeconds * float64(time.Second)),
		DeleteAfterUpload: a.DeleteAfterUpload,
		QueueSize:         a.QueueSize,
	}
}
