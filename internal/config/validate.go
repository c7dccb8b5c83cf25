package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/tgmirror/ferry/internal/archive"
	"github.com/tgmirror/ferry/internal/consts"
	"github.com/tgmirror/ferry/internal/pool"
	"github.com/tgmirror/ferry/internal/schedule"
)

const defaultUploadDelaySeconds = 1.5

// Validate checks the tree and fills defaults in place, so a validated
// config can be used without nil checks on the optional knobs.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}

	if c.API.ID <= 0 {
		return errors.New("api.id is required")
	}
	c.API.Hash = strings.TrimSpace(c.API.Hash)
	if c.API.Hash == "" {
		return errors.New("api.hash is required")
	}

	if err := c.Sessions.validate(); err != nil {
		return err
	}
	if err := c.Archive.validate(); err != nil {
		return err
	}

	if strings.TrimSpace(c.Logging.File) == "" {
		c.Logging.File = consts.DefaultLogFile()
	}

	if bind := strings.TrimSpace(c.Monitor.Bind); bind != "" {
		if _, _, err := net.SplitHostPort(bind); err != nil {
			return fmt.Errorf("monitor.bind %q is not host:port: %w", bind, err)
		}
		c.Monitor.Bind = bind
	} else {
		c.Monitor.Bind = ""
	}

	c.Notify.Token = strings.TrimSpace(c.Notify.Token)
	c.Notify.Chat = strings.TrimSpace(c.Notify.Chat)
	if (c.Notify.Token == "") != (c.Notify.Chat == "") {
		return errors.New("notify.token and notify.chat must be set together")
	}

	c.Schedule.Expr = strings.TrimSpace(c.Schedule.Expr)
	if c.Schedule.Expr != "" {
		if _, err := schedule.Parse(c.Schedule.Expr); err != nil {
			return fmt.Errorf("schedule.expr: %w", err)
		}
	}

	return nil
}

func (s *SessionsConfig) validate() error {
	if len(s.Names) == 0 {
		return errors.New("sessions.names needs at least one entry")
	}
	if len(s.Names) > pool.MaxSessions {
		return fmt.Errorf("sessions.names allows at most %d entries, got %d", pool.MaxSessions, len(s.Names))
	}

	seen := make(map[string]struct{}, len(s.Names))
	normalized := make([]string, 0, len(s.Names))
	for _, name := range s.Names {
		name = strings.TrimSpace(name)
		if name == "" {
			return errors.New("sessions.names entries cannot be empty")
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate session name %q", name)
		}
		seen[name] = struct{}{}
		normalized = append(normalized, name)
	}
	s.Names = normalized

	s.Dir = strings.TrimSpace(s.Dir)
	if s.Dir == "" {
		s.Dir = consts.DefaultSessionsDir()
	}

	s.Proxy = strings.TrimSpace(s.Proxy)
	if s.Proxy != "" {
		u, err := url.Parse(s.Proxy)
		if err != nil {
			return fmt.Errorf("sessions.proxy: %w", err)
		}
		switch u.Scheme {
		case "socks5", "socks5h":
		default:
			return fmt.Errorf("sessions.proxy scheme %q is not supported, use socks5", u.Scheme)
		}
	}

	if s.RequestsPerSecond < 0 {
		return errors.New("sessions.requests_per_second cannot be negative")
	}
	if s.PartSizeKB < 0 {
		return errors.New("sessions.part_size_kb cannot be negative")
	}
	if s.UploadThreads < 0 {
		return errors.New("sessions.upload_threads cannot be negative")
	}
	return nil
}

func (a *ArchiveConfig) validate() error {
	a.DownloadDir = strings.TrimSpace(a.DownloadDir)
	if a.DownloadDir == "" {
		a.DownloadDir = consts.DefaultDownloadDir()
	}

	a.Mode = strings.TrimSpace(a.Mode)
	if a.Mode == "" {
		a.Mode = string(archive.ModeRaw)
	}
	mode := archive.StorageMode(a.Mode)
	if !mode.Valid() {
		return fmt.Errorf("archive.mode must be raw, upload or hybrid, got %q", a.Mode)
	}

	a.Target = strings.TrimSpace(a.Target)
	if mode.Uploads() && a.Target == "" {
		return fmt.Errorf("archive.target is required when archive.mode is %s", a.Mode)
	}

	if a.BatchSize < 0 || a.BatchSize > archive.MaxBatchSize {
		return fmt.Errorf("archive.batch_size must be 0..%d, got %d", archive.MaxBatchSize, a.BatchSize)
	}
	if a.MaxClients < 0 || a.MaxClients > pool.MaxSessions {
		return fmt.Errorf("archive.max_clients must be 0..%d, got %d", pool.MaxSessions, a.MaxClients)
	}

	a.Metric = strings.TrimSpace(a.Metric)
	if !archive.Metric(a.Metric).Valid() {
		return fmt.Errorf("archive.metric must be file_count, message_count, size_estimate or mixed, got %q", a.Metric)
	}

	if a.SplitThreshold < 0 {
		return errors.New("archive.split_threshold cannot be negative")
	}
	if a.QueueSize < 0 {
		return errors.New("archive.queue_size cannot be negative")
	}

	if a.PreferLargeGroupsFirst == nil {
		v := true
		a.PreferLargeGroupsFirst = &v
	}
	if a.PreserveCaptions == nil {
		v := true
		a.PreserveCaptions = &v
	}
	if a.PreserveMediaGroups == nil {
		v := true
		a.PreserveMediaGroups = &v
	}
	if a.UploadDelaySeconds == nil {
		v := defaultUploadDelaySeconds
		a.UploadDelaySeconds = &v
	}
	if *a.UploadDelaySeconds < 0 {
		return errors.New("archive.upload_delay_seconds cannot be negative")
	}

	if a.DeleteAfterUpload && mode != archive.ModeHybrid {
		return errors.New("archive.delete_after_upload only applies to hybrid mode")
	}

	return nil
}
