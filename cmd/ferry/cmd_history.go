package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/tgmirror/ferry/internal/archive"
)

var historyHwd = &HistoryRunner{}

type HistoryRunner struct{}

func (r *HistoryRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent archive runs",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "download-dir",
				Usage: "Download root holding the run journal",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of runs to show",
				Value: 20,
			},
		},
		Action: r.run,
	}
}

func (r *HistoryRunner) run(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dir := cfg.Archive.DownloadDir
	if cmd.IsSet("download-dir") {
		dir = strings.TrimSpace(cmd.String("download-dir"))
	}

	reports, err := archive.NewHistory(dir).Recent(int(cmd.Int("limit")))
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(reports) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	for _, rep := range reports {
		fmt.Println(formatRun(rep))
	}
	return nil
}

func formatRun(r *archive.Report) string {
	line := fmt.Sprintf("%s  %-8s %-20s %d-%d  %d files, %s",
		r.StartedAt.Local().Format("2006-01-02 15:04"),
		r.Status,
		r.Channel,
		r.StartID, r.EndID,
		r.Downloaded,
		humanize.IBytes(uint64(max(r.Bytes, 0))),
	)
	if r.Failed > 0 {
		line += fmt.Sprintf(", %d failed", r.Failed)
	}
	return line
}
