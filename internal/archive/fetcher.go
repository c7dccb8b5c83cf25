package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tgmirror/ferry/internal/pkg/logs"
	"github.com/tgmirror/ferry/internal/pkg/prometheus"
	"github.com/tgmirror/ferry/internal/pkg/utils"
	"github.com/tgmirror/ferry/internal/pool"
	"github.com/tgmirror/ferry/internal/transport"
)

const (
	// DefaultBatchSize is the GetMessages window per fetch call.
	DefaultBatchSize = 50

	// MaxBatchSize is the hard cap on the configurable window.
	MaxBatchSize = 100

	// interBatchDelay softens burstiness between consecutive batches.
	interBatchDelay = 100 * time.Millisecond

	// downloadRetries is how many times a whole-file download is retried
	// after the first failure, exponential from a one second base.
	downloadRetries = 3
)

// errSessionLost aborts a fetch loop whose session lost authorization.
// The remaining assignment is counted failed and the run carries on with
// the other sessions.
var errSessionLost = errors.New("fetch: session lost")

// Progress is one batch's outcome, streamed to the run observer.
type Progress struct {
	Session   string
	Processed int
	Succeeded int
	Failed    int
}

// FetchResult summarizes one session's fetch loop. Downloaded includes
// items that degraded to text between probe and fetch; Downloaded plus
// Failed always equals the number of assigned descriptors.
type FetchResult struct {
	Session    string        `json:"session"`
	Downloaded int           `json:"downloaded"`
	Failed     int           `json:"failed"`
	Texts      int           `json:"texts"`
	Bytes      int64         `json:"bytes"`
	FirstID    int           `json:"first_id,omitempty"`
	LastID     int           `json:"last_id,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// FetcherOptions wire one per-session fetch loop.
type FetcherOptions struct {
	Handle  *pool.Handle
	Pool    *pool.Pool // receives rate-limit marks and auth failures; may be nil in tests
	Channel *transport.Channel
	Dir     string
	TextLog *TextLog

	// Queue receives every fetched item when uploads are enabled. A nil
	// queue selects raw mode: whole-file downloads, no handoff.
	Queue chan *FetchedItem

	// InMemory streams media into memory instead of the directory. Only
	// meaningful with a queue.
	InMemory bool

	// ForwardText additionally enqueues text items for the uploader.
	ForwardText bool

	BatchSize int
	Clock     clockwork.Clock
	Progress  func(Progress)
}

// Fetcher drains one session's assignment: groups in assignment order,
// members id-ascending, one GetMessages window at a time.
type Fetcher struct {
	o     FetcherOptions
	clock clockwork.Clock
	batch int
}

func NewFetcher(o FetcherOptions) *Fetcher {
	batch := o.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	if batch > MaxBatchSize {
		batch = MaxBatchSize
	}
	clock := o.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Fetcher{o: o, clock: clock, batch: batch}
}

// Run walks the assignment and downloads every member. Per-item and
// per-batch failures never abort the loop; only cancellation does.
func (f *Fetcher) Run(ctx context.Context, groups []*Group) (*FetchResult, error) {
	res := &FetchResult{Session: f.o.Handle.Name}
	start := f.clock.Now()
	defer func() { res.Duration = f.clock.Since(start) }()

	walk := flattenGroups(groups)
	if len(walk) == 0 {
		return res, nil
	}
	res.FirstID, res.LastID = idRange(walk)

	for lo := 0; lo < len(walk); lo += f.batch {
		hi := lo + f.batch
		if hi > len(walk) {
			hi = len(walk)
		}
		if err := f.runBatch(ctx, walk[lo:hi], res); err != nil {
			if errors.Is(err, errSessionLost) {
				res.Failed += len(walk) - hi
				logs.CtxError(ctx, "[fetch] %s: session lost, %d remaining items failed", res.Session, len(walk)-hi)
				return res, nil
			}
			return res, err
		}
		if hi < len(walk) {
			if err := sleep(ctx, f.clock, interBatchDelay); err != nil {
				return res, err
			}
		}
	}

	logs.CtxInfo(ctx, "[fetch] %s done: %d downloaded, %d failed, %s",
		res.Session, res.Downloaded, res.Failed, res.Duration)
	return res, nil
}

// runBatch fetches one id window and processes every member. All given
// descriptors are accounted for in the result unless the context dies.
func (f *Fetcher) runBatch(ctx context.Context, descs []Descriptor, res *FetchResult) error {
	ids := make([]int, len(descs))
	for i := range descs {
		ids[i] = descs[i].ID
	}

	msgs, err := f.getMessages(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res.Failed += len(descs)
		f.countFailed(len(descs))
		f.report(Progress{Session: res.Session, Processed: len(descs), Failed: len(descs)})
		if transport.IsAuth(err) {
			f.failSession(err)
			return errSessionLost
		}
		logs.CtxWarn(ctx, "[fetch] %s: batch %d-%d failed: %v", res.Session, ids[0], ids[len(ids)-1], err)
		return nil
	}

	succeeded, failed := 0, 0
	for i, m := range msgs {
		d := descs[i]
		err := f.fetchOne(ctx, d, m, res)
		switch {
		case err == nil:
			succeeded++
		case ctx.Err() != nil:
			return ctx.Err()
		case transport.IsAuth(err):
			// Fail this item, the rest of the batch, and the session.
			remaining := len(msgs) - i
			res.Failed += remaining
			f.countFailed(remaining)
			f.failSession(err)
			f.report(Progress{Session: res.Session, Processed: len(descs), Succeeded: succeeded, Failed: len(descs) - succeeded})
			return errSessionLost
		default:
			failed++
			res.Failed++
			f.countFailed(1)
			logs.CtxWarn(ctx, "[fetch] %s: message %d failed: %v", res.Session, d.ID, err)
		}
	}
	f.report(Progress{Session: res.Session, Processed: len(descs), Succeeded: succeeded, Failed: failed})
	return nil
}

// fetchOne dispatches a single member by what the live message turned out
// to be: vanished, degraded to text, or still carrying media.
func (f *Fetcher) fetchOne(ctx context.Context, d Descriptor, m *transport.Message, res *FetchResult) error {
	switch {
	case m == nil:
		return errors.New("message deleted since probe")

	case m.Media == nil || !m.Media.Kind.HasMedia():
		if err := f.o.TextLog.Append(m.ID, m.AlbumID, m.Date, m.Text); err != nil {
			return err
		}
		res.Downloaded++
		res.Texts++
		prometheus.MessagesProcessed.WithLabelValues(res.Session, "text").Inc()
		if f.o.Queue != nil && f.o.ForwardText {
			text := d
			text.Kind = transport.KindText
			text.Caption = m.Text
			return f.enqueue(ctx, &FetchedItem{Desc: text, Session: res.Session})
		}
		return nil

	default:
		n, err := f.fetchMedia(ctx, d, m)
		if err != nil {
			return err
		}
		res.Downloaded++
		res.Bytes += n
		prometheus.MessagesProcessed.WithLabelValues(res.Session, "downloaded").Inc()
		prometheus.BytesDownloaded.WithLabelValues(res.Session).Add(float64(n))
		return nil
	}
}

// fetchMedia materializes one media message per the storage mode: raw
// whole-file with retries, streamed to memory for the upload queue, or
// streamed to disk for the hybrid handoff.
func (f *Fetcher) fetchMedia(ctx context.Context, d Descriptor, m *transport.Message) (int64, error) {
	name := MediaFileName(&d)

	switch {
	case f.o.Queue == nil:
		path := filepath.Join(f.o.Dir, name)
		if err := f.download(ctx, m, path); err != nil {
			return 0, err
		}
		st, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		return st.Size(), nil

	case f.o.InMemory:
		var data []byte
		n, err := f.withFloodRetry(ctx, func() (int64, error) {
			var buf bytes.Buffer
			n, err := f.o.Handle.Client.StreamMedia(ctx, m, &buf)
			if err != nil {
				return n, err
			}
			data = buf.Bytes()
			return n, nil
		})
		if err != nil {
			return 0, err
		}
		return n, f.enqueue(ctx, &FetchedItem{Desc: d, Data: data, Session: f.o.Handle.Name})

	default:
		path := filepath.Join(f.o.Dir, name)
		n, err := f.withFloodRetry(ctx, func() (int64, error) {
			return f.streamToFile(ctx, m, path)
		})
		if err != nil {
			return 0, err
		}
		return n, f.enqueue(ctx, &FetchedItem{Desc: d, Path: path, Session: f.o.Handle.Name})
	}
}

// streamToFile writes the media to path, deleting the partial file on any
// error so a failed item leaves nothing behind.
func (f *Fetcher) streamToFile(ctx context.Context, m *transport.Message, path string) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := f.o.Handle.Client.StreamMedia(ctx, m, file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			logs.Warn("[fetch] %s: remove partial %s: %v", f.o.Handle.Name, path, rmErr)
		}
		return n, err
	}
	return n, nil
}

// download is the raw-mode whole-file path: flood waits stall and retry
// the same call without limit, anything else retries up to downloadRetries
// times with exponential backoff.
func (f *Fetcher) download(ctx context.Context, m *transport.Message, path string) error {
	attempt := 0
	for {
		_, err := f.o.Handle.Client.DownloadMedia(ctx, m, path)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if rl, ok := transport.AsRateLimited(err); ok {
			if serr := f.stall(ctx, rl.Wait); serr != nil {
				return serr
			}
			continue
		}
		if transport.IsAuth(err) {
			return err
		}
		attempt++
		if attempt > downloadRetries {
			return err
		}
		logs.CtxWarn(ctx, "[fetch] %s: download %d retry %d/%d: %v", f.o.Handle.Name, m.ID, attempt, downloadRetries, err)
		if serr := sleep(ctx, f.clock, utils.Backoff(time.Second, attempt-1)); serr != nil {
			return serr
		}
	}
}

// getMessages retries the same window through flood waits, per the probe's
// idempotence rule.
func (f *Fetcher) getMessages(ctx context.Context, ids []int) ([]*transport.Message, error) {
	for {
		msgs, err := f.o.Handle.Client.GetMessages(ctx, f.o.Channel, ids)
		if err == nil {
			return msgs, nil
		}
		rl, ok := transport.AsRateLimited(err)
		if !ok {
			return nil, err
		}
		if err := f.stall(ctx, rl.Wait); err != nil {
			return nil, err
		}
	}
}

// withFloodRetry runs one download operation, waiting out rate limits and
// rerunning the operation from scratch. The operation owns its sink, so a
// retry never duplicates bytes.
func (f *Fetcher) withFloodRetry(ctx context.Context, op func() (int64, error)) (int64, error) {
	for {
		n, err := op()
		if err == nil {
			return n, nil
		}
		rl, ok := transport.AsRateLimited(err)
		if !ok {
			return n, err
		}
		if err := f.stall(ctx, rl.Wait); err != nil {
			return 0, err
		}
	}
}

// stall waits out a rate limit and tells the pool, so Acquire skips this
// session while its fetcher is paused. Other sessions keep running.
func (f *Fetcher) stall(ctx context.Context, wait time.Duration) error {
	logs.CtxWarn(ctx, "[fetch] %s: rate limited, stalling %s", f.o.Handle.Name, wait)
	if f.o.Pool != nil {
		f.o.Pool.MarkRateLimited(f.o.Handle.Name, wait)
	}
	return sleep(ctx, f.clock, wait)
}

// enqueue hands an item to the uploader, blocking when the queue is full.
// Backpressure from slow uploads paces the downloads.
func (f *Fetcher) enqueue(ctx context.Context, item *FetchedItem) error {
	select {
	case f.o.Queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) failSession(err error) {
	logs.Error("[fetch] %s: authorization lost: %v", f.o.Handle.Name, err)
	if f.o.Pool != nil {
		f.o.Pool.Fail(f.o.Handle.Name, err.Error())
	}
}

func (f *Fetcher) report(p Progress) {
	if f.o.Progress != nil {
		f.o.Progress(p)
	}
}

func (f *Fetcher) countFailed(n int) {
	prometheus.MessagesProcessed.WithLabelValues(f.o.Handle.Name, "failed").Add(float64(n))
}

// flattenGroups lays the assignment out in walk order: groups as assigned,
// members id-ascending within each.
func flattenGroups(groups []*Group) []Descriptor {
	var walk []Descriptor
	for _, g := range groups {
		walk = append(walk, g.Members...)
	}
	return walk
}

func idRange(walk []Descriptor) (lo, hi int) {
	lo, hi = walk[0].ID, walk[0].ID
	for _, d := range walk[1:] {
		if d.ID < lo {
			lo = d.ID
		}
		if d.ID > hi {
			hi = d.ID
		}
	}
	return lo, hi
}
