package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tgmirror/ferry/internal/config"
	"github.com/tgmirror/ferry/internal/consts"
	"github.com/tgmirror/ferry/internal/pkg/logs"
	"github.com/tgmirror/ferry/internal/pool"
	"github.com/tgmirror/ferry/internal/transport"
	_ "github.com/tgmirror/ferry/internal/transport/mtproto"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Config file path (default ~/.ferry/config.yaml)",
	}
}

func configPath(cmd *cli.Command) string {
	if path := strings.TrimSpace(cmd.String("config")); path != "" {
		return path
	}
	return consts.DefaultConfigPath()
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := configPath(cmd)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no config at %s, run \"ferry init\" first", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg config.LoggingConfig) error {
	return logs.Init(logs.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		File:       cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

// buildPool creates one MTProto client per configured session name. The
// clients are not connected yet; the pool's BringOnline does that.
func buildPool(cfg *config.Config) (*pool.Pool, error) {
	clients := make([]transport.Client, 0, len(cfg.Sessions.Names))
	for _, name := range cfg.Sessions.Names {
		client, err := transport.New(transport.MTProto, transport.Options{
			Name:              name,
			AppID:             cfg.API.ID,
			AppHash:           cfg.API.Hash,
			SessionFile:       filepath.Join(cfg.Sessions.Dir, name+".session"),
			Proxy:             cfg.Sessions.Proxy,
			RequestsPerSecond: cfg.Sessions.RequestsPerSecond,
			PartSizeKB:        cfg.Sessions.PartSizeKB,
			UploadThreads:     cfg.Sessions.UploadThreads,
		})
		if err != nil {
			return nil, fmt.Errorf("create session %s: %w", name, err)
		}
		clients = append(clients, client)
	}
	return pool.New(clients)
}

// shutdownPool is the deferred counterpart of buildPool on every exit path.
func shutdownPool(p *pool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	p.Shutdown(ctx)
}
