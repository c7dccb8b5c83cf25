package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tgmirror/ferry/internal/pkg/logs"
)

func main() {
	cmd := &cli.Command{
		Name:  "ferry",
		Usage: "Multi-session Telegram channel archiver",
		Commands: []*cli.Command{
			archiveHwd.cmd(),
			planHwd.cmd(),
			sessionsHwd.cmd(),
			historyHwd.cmd(),
			initHwd.cmd(),
			updateHwd.cmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logs.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}
