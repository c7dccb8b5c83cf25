package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/tgmirror/ferry/internal/pkg/logs"
	"github.com/tgmirror/ferry/internal/pkg/prometheus"
	"github.com/tgmirror/ferry/internal/pool"
	"github.com/tgmirror/ferry/internal/transport"
)

// StorageMode selects what happens to fetched media.
type StorageMode string

const (
	// ModeRaw downloads to the channel directory and nothing else.
	ModeRaw StorageMode = "raw"
	// ModeUpload streams through memory to the target channel, no local copy.
	ModeUpload StorageMode = "upload"
	// ModeHybrid downloads to disk and uploads from disk.
	ModeHybrid StorageMode = "hybrid"
)

func (m StorageMode) Valid() bool {
	switch m {
	case ModeRaw, ModeUpload, ModeHybrid:
		return true
	default:
		return false
	}
}

// Uploads reports whether the mode feeds the uploader pipeline.
func (m StorageMode) Uploads() bool {
	return m == ModeUpload || m == ModeHybrid
}

// RunOptions carries everything one archive run needs.
type RunOptions struct {
	Channel     string
	StartID     int
	EndID       int
	Mode        StorageMode
	Target      string
	DownloadDir string

	BatchSize         int
	MaxClients        int
	Metric            Metric
	PreferLargeFirst  bool
	SplitThreshold    int
	PreserveCaptions  bool
	PreserveAlbums    bool
	ForwardText       bool
	UploadDelay       time.Duration
	DeleteAfterUpload bool
	QueueSize         int

	Observer func(Progress)
}

// Report is the user-visible outcome of one run.
type Report struct {
	RunID      string    `json:"run_id"`
	Channel    string    `json:"channel"`
	Dir        string    `json:"dir,omitempty"`
	StartID    int       `json:"start_id"`
	EndID      int       `json:"end_id"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`

	Probe   ProbeStats     `json:"probe"`
	Invalid int            `json:"invalid"`
	Balance *BalanceReport `json:"balance,omitempty"`

	Sessions []FetchResult `json:"sessions,omitempty"`

	Downloaded int   `json:"downloaded"`
	Failed     int   `json:"failed"`
	Texts      int   `json:"texts"`
	Bytes      int64 `json:"bytes"`

	AlbumsUploaded  int   `json:"albums_uploaded,omitempty"`
	SinglesUploaded int   `json:"singles_uploaded,omitempty"`
	TextsForwarded  int   `json:"texts_forwarded,omitempty"`
	UploadFailed    int   `json:"upload_failed,omitempty"`
	UploadBytes     int64 `json:"upload_bytes,omitempty"`
}

// Coordinator drives archive runs over a session pool. The pool's
// lifecycle belongs to the caller; the coordinator only brings it online.
type Coordinator struct {
	pool  *pool.Pool
	clock clockwork.Clock
}

func NewCoordinator(p *pool.Pool, clock clockwork.Clock) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Coordinator{pool: p, clock: clock}
}

// runSetup is the shared front half of Run and Plan.
type runSetup struct {
	channel  *transport.Channel
	target   *transport.Channel
	dir      string
	probe    *ProbeResult
	sessions []string
	asn      Assignment
	balance  *BalanceReport
}

// Run outcome statuses recorded in reports, history and metrics.
const (
	StatusOK       = "ok"
	StatusCanceled = "canceled"
	StatusFailed   = "failed"
	StatusPlan     = "plan"
)

// Run archives one id interval. Per-item errors never surface here; the
// returned error is non-nil only for the fatal cases: no session online,
// channel directory creation failure, bad options, or cancellation.
func (c *Coordinator) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	if err := validateRunOptions(&opts); err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Channel:   opts.Channel,
		StartID:   opts.StartID,
		EndID:     opts.EndID,
		Mode:      string(opts.Mode),
		Status:    StatusFailed,
		StartedAt: c.clock.Now().UTC(),
	}
	began := c.clock.Now()
	defer func() {
		report.DurationMS = c.clock.Since(began).Milliseconds()
	}()
	ctx = logs.SetLogID(ctx, report.RunID)

	setup, err := c.prepare(ctx, &opts, true)
	if err != nil {
		prometheus.Runs.WithLabelValues(StatusFailed).Inc()
		return nil, err
	}
	report.Dir = setup.dir
	report.Probe = setup.probe.Stats
	report.Invalid = len(setup.probe.InvalidIDs)
	report.Balance = setup.balance

	for _, sl := range setup.balance.Sessions {
		logs.CtxInfo(ctx, "[run] plan %s: %d groups, %d files, ~%s",
			sl.Session, sl.Groups, sl.Files, humanBytes(sl.Bytes))
	}

	textLog := NewTextLog(setup.dir)
	defer textLog.Close()

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	fetchResults := make([]*FetchResult, len(setup.sessions))
	uploadStats := make([]*UploadStats, len(setup.sessions))
	var uploaders sync.WaitGroup

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range setup.sessions {
		handle, lerr := c.pool.Lookup(name)
		if lerr != nil {
			lost := 0
			for _, grp := range setup.asn[name] {
				lost += len(grp.Members)
			}
			fetchResults[i] = &FetchResult{Session: name, Failed: lost}
			logs.CtxWarn(ctx, "[run] session %s unavailable at launch, %d items marked failed: %v", name, lost, lerr)
			continue
		}

		var queue chan *FetchedItem
		if opts.Mode.Uploads() {
			queue = make(chan *FetchedItem, queueSize)
			up := NewUploader(UploaderOptions{
				Client:            handle.Client,
				Target:            setup.target,
				Queue:             queue,
				PreserveCaptions:  opts.PreserveCaptions,
				PreserveAlbums:    opts.PreserveAlbums,
				DeleteAfterUpload: opts.DeleteAfterUpload && opts.Mode == ModeHybrid,
				Delay:             opts.UploadDelay,
				Clock:             c.clock,
			})
			uploaders.Add(1)
			// Uploaders run on the parent context so a fetch failure on one
			// session does not abort another session's in-flight sends. They
			// exit when their queue closes.
			go func() {
				defer uploaders.Done()
				uploadStats[i] = up.Run(ctx)
			}()
		}

		fetcher := NewFetcher(FetcherOptions{
			Handle:      handle,
			Pool:        c.pool,
			Channel:     setup.channel,
			Dir:         setup.dir,
			TextLog:     textLog,
			Queue:       queue,
			InMemory:    opts.Mode == ModeUpload,
			ForwardText: opts.ForwardText,
			BatchSize:   opts.BatchSize,
			Clock:       c.clock,
			Progress:    opts.Observer,
		})
		groups := setup.asn[name]
		g.Go(func() error {
			if queue != nil {
				defer close(queue)
			}
			res, ferr := fetcher.Run(gctx, groups)
			fetchResults[i] = res
			return ferr
		})
	}

	runErr := g.Wait()
	uploaders.Wait()

	for _, fr := range fetchResults {
		if fr == nil {
			continue
		}
		report.Sessions = append(report.Sessions, *fr)
		report.Downloaded += fr.Downloaded
		report.Failed += fr.Failed
		report.Texts += fr.Texts
		report.Bytes += fr.Bytes
	}
	for _, us := range uploadStats {
		if us == nil {
			continue
		}
		report.AlbumsUploaded += us.Albums
		report.SinglesUploaded += us.Singles
		report.TextsForwarded += us.Texts
		report.UploadFailed += us.Failed
		report.UploadBytes += us.Bytes
	}

	switch {
	case runErr == nil:
		report.Status = StatusOK
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		report.Status = StatusCanceled
	default:
		report.Status = StatusFailed
	}
	prometheus.Runs.WithLabelValues(report.Status).Inc()

	// An all-invalid interval leaves the channel directory untouched
	// beyond its creation.
	if report.Downloaded+report.Failed+report.Texts > 0 {
		if werr := WriteReportFile(setup.dir, report); werr != nil {
			logs.CtxWarn(ctx, "[run] write report: %v", werr)
		}
	}
	LogReport(ctx, report)
	return report, runErr
}

// Plan probes and distributes without touching disk or fetching anything.
func (c *Coordinator) Plan(ctx context.Context, opts RunOptions) (*Report, error) {
	if err := validateRunOptions(&opts); err != nil {
		return nil, err
	}
	report := &Report{
		RunID:     uuid.NewString(),
		Channel:   opts.Channel,
		StartID:   opts.StartID,
		EndID:     opts.EndID,
		Mode:      string(opts.Mode),
		Status:    StatusPlan,
		StartedAt: c.clock.Now().UTC(),
	}
	began := c.clock.Now()
	ctx = logs.SetLogID(ctx, report.RunID)

	setup, err := c.prepare(ctx, &opts, false)
	if err != nil {
		return nil, err
	}
	report.Probe = setup.probe.Stats
	report.Invalid = len(setup.probe.InvalidIDs)
	report.Balance = setup.balance
	report.DurationMS = c.clock.Since(began).Milliseconds()
	return report, nil
}

func (c *Coordinator) prepare(ctx context.Context, opts *RunOptions, ensureDir bool) (*runSetup, error) {
	n, err := c.pool.BringOnline(ctx)
	if err != nil {
		return nil, err
	}
	logs.CtxInfo(ctx, "[run] %d sessions online", n)

	h, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(h.Name)

	setup := &runSetup{}
	setup.channel, err = c.resolve(ctx, h.Client, opts.Channel)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", opts.Channel, err)
	}
	if opts.Mode.Uploads() {
		setup.target, err = c.resolve(ctx, h.Client, opts.Target)
		if err != nil {
			return nil, fmt.Errorf("resolve target %s: %w", opts.Target, err)
		}
	}

	setup.dir = filepath.Join(opts.DownloadDir, ChannelDirName(setup.channel, opts.Channel))
	if ensureDir {
		if err := os.MkdirAll(setup.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create channel directory %s: %w", setup.dir, err)
		}
	}

	prober := NewProber(h.Client, c.clock)
	setup.probe, err = prober.Probe(ctx, setup.channel, opts.StartID, opts.EndID)
	if err != nil {
		return nil, err
	}

	setup.sessions = c.pool.Online()
	if len(setup.sessions) == 0 {
		return nil, pool.ErrNoneOnline
	}
	if opts.MaxClients > 0 && len(setup.sessions) > opts.MaxClients {
		setup.sessions = setup.sessions[:opts.MaxClients]
	}

	setup.asn, setup.balance, err = Distribute(setup.probe.Descriptors, setup.sessions, DistributeOptions{
		Metric:           opts.Metric,
		PreferLargeFirst: opts.PreferLargeFirst,
		SplitThreshold:   opts.SplitThreshold,
	})
	if err != nil {
		return nil, err
	}
	return setup, nil
}

// resolve looks up a channel by handle, waiting out rate limits.
func (c *Coordinator) resolve(ctx context.Context, client transport.Client, handle string) (*transport.Channel, error) {
	for {
		ch, err := client.GetChat(ctx, handle)
		if rl, ok := transport.AsRateLimited(err); ok {
			logs.CtxWarn(ctx, "[run] resolve %s rate limited for %s", handle, rl.Wait)
			if serr := sleep(ctx, c.clock, rl.Wait); serr != nil {
				return nil, serr
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

func validateRunOptions(o *RunOptions) error {
	if o.Channel == "" {
		return errors.New("run: channel is required")
	}
	if o.StartID <= 0 || o.EndID < o.StartID {
		return fmt.Errorf("run: invalid id range [%d, %d]", o.StartID, o.EndID)
	}
	if o.Mode == "" {
		o.Mode = ModeRaw
	}
	if !o.Mode.Valid() {
		return fmt.Errorf("run: unknown storage mode %q", o.Mode)
	}
	if o.Mode.Uploads() && o.Target == "" {
		return errors.New("run: target channel is required unless mode is raw")
	}
	if o.DownloadDir == "" {
		return errors.New("run: download dir is required")
	}
	if o.Metric == "" {
		o.Metric = MetricFileCount
	}
	if !o.Metric.Valid() {
		return fmt.Errorf("run: unknown balance metric %q", o.Metric)
	}
	return nil
}
