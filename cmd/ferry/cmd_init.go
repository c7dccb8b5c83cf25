package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/tgmirror/ferry/internal/archive"
	"github.com/tgmirror/ferry/internal/config"
	"github.com/tgmirror/ferry/internal/consts"
)

var initHwd = &InitRunner{}

type InitRunner struct{}

func (r *InitRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a starter config file",
		Flags: []cli.Flag{
			configFlag(),
			&cli.IntFlag{
				Name:  "api-id",
				Usage: "Application id from my.telegram.org",
			},
			&cli.StringFlag{
				Name:  "api-hash",
				Usage: "Application hash from my.telegram.org",
			},
			&cli.StringSliceFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session name, repeat for more (up to 4)",
			},
			&cli.StringFlag{
				Name:  "download-dir",
				Usage: "Root directory for channel archives",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite an existing config file",
			},
		},
		Action: r.run,
	}
}

// ── style helpers ──────────────────────────────────────────────────

var (
	cWarn    = color.New(color.FgYellow)
	cSuccess = color.New(color.FgGreen)
	cError   = color.New(color.FgRed)
	cDim     = color.New(color.FgHiBlack)
)

func (r *InitRunner) run(_ context.Context, cmd *cli.Command) error {
	apiID := int(cmd.Int("api-id"))
	if apiID <= 0 {
		return errors.New("--api-id is required, create an application at https://my.telegram.org")
	}
	apiHash := strings.TrimSpace(cmd.String("api-hash"))
	if apiHash == "" {
		return errors.New("--api-hash is required")
	}

	names := cmd.StringSlice("session")
	if len(names) == 0 {
		names = []string{"main"}
	}

	cfgPath := configPath(cmd)
	if _, err := os.Stat(cfgPath); err == nil && !cmd.Bool("force") {
		cWarn.Printf("  Config already exists at %s\n", cfgPath)
		return errors.New("pass --force to overwrite it")
	}

	cfg := &config.Config{
		API: config.APIConfig{
			ID:   apiID,
			Hash: apiHash,
		},
		Sessions: config.SessionsConfig{
			Dir:   consts.DefaultSessionsDir(),
			Names: names,
		},
		Archive: config.ArchiveConfig{
			DownloadDir: strings.TrimSpace(cmd.String("download-dir")),
			Mode:        string(archive.ModeRaw),
		},
		Logging: config.LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "both",
			File:       consts.DefaultLogFile(),
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     3,
		},
	}

	if err := config.Create(cfgPath, cfg); err != nil {
		cError.Printf("  ✗ Failed to write config: %v\n", err)
		return err
	}

	cSuccess.Printf("  ✓ Created %s\n", cfgPath)
	fmt.Println()
	cDim.Println("  Session authorizations are expected at:")
	for _, name := range names {
		cDim.Printf("    %s\n", filepath.Join(cfg.Sessions.Dir, name+".session"))
	}
	cDim.Println("  Log each one in with your MTProto tool of choice.")
	fmt.Println()
	cSuccess.Println("  All set! Run \"ferry sessions check\" to verify connectivity.")
	fmt.Println()
	return nil
}
