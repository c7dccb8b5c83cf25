package archive

import (
	"context"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tgmirror/ferry/internal/pkg/logs"
	"github.com/tgmirror/ferry/internal/pkg/prometheus"
	"github.com/tgmirror/ferry/internal/transport"
)

const (
	// DefaultQueueSize bounds the fetcher→uploader channel. Smaller values
	// tighten the memory ceiling at the cost of throughput.
	DefaultQueueSize = 100

	// DefaultUploadDelay is the pause after each emission.
	DefaultUploadDelay = 1500 * time.Millisecond

	// maxAlbumSize is the transport's media group limit.
	maxAlbumSize = 10
)

// UploadStats counts one uploader's emissions.
type UploadStats struct {
	Albums  int   `json:"albums"`
	Singles int   `json:"singles"`
	Texts   int   `json:"texts"`
	Failed  int   `json:"failed"`
	Bytes   int64 `json:"bytes"`
}

// UploaderOptions wire one per-session consumer.
type UploaderOptions struct {
	Client transport.Client
	Target *transport.Channel
	Queue  <-chan *FetchedItem

	PreserveCaptions bool
	PreserveAlbums   bool

	// DeleteAfterUpload removes hybrid-mode files once their send
	// succeeded. Failed sends always keep the file.
	DeleteAfterUpload bool

	Delay time.Duration
	Clock clockwork.Clock
}

// Uploader re-emits fetched items to the target channel with at most one
// album open at a time. It is a single consumer: the open album buffer is
// owned here and never touched by producers.
type Uploader struct {
	o     UploaderOptions
	clock clockwork.Clock
	delay time.Duration

	// buffering state; empty albumID means idle
	albumID string
	buffer  []*FetchedItem

	stats UploadStats
}

// NewUploader builds a consumer for one session's queue. Delay is applied
// as given; the configuration layer owns the 1.5 s default.
func NewUploader(o UploaderOptions) *Uploader {
	clock := o.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	delay := o.Delay
	if delay < 0 {
		delay = 0
	}
	return &Uploader{o: o, clock: clock, delay: delay}
}

// Run consumes the queue until it closes, then flushes any open album and
// returns the stats. Closing the queue is the only path that guarantees
// the tail album of a run is emitted.
func (u *Uploader) Run(ctx context.Context) *UploadStats {
	for item := range u.o.Queue {
		u.handle(ctx, item)
	}
	u.flush(ctx)
	return &u.stats
}

// handle advances the album state machine by one item.
func (u *Uploader) handle(ctx context.Context, item *FetchedItem) {
	isAlbum := u.o.PreserveAlbums && item.Desc.AlbumID != "" && item.Desc.Kind.HasMedia()

	if !isAlbum {
		// A non-member closes whatever album is open.
		u.flush(ctx)
		if item.Desc.Kind == transport.KindText {
			u.sendText(ctx, item)
		} else {
			u.sendSingle(ctx, item)
		}
		return
	}

	if u.albumID != "" && item.Desc.AlbumID != u.albumID {
		u.flush(ctx)
	}
	u.albumID = item.Desc.AlbumID
	u.buffer = append(u.buffer, item)
	if len(u.buffer) >= maxAlbumSize {
		u.flush(ctx)
	}
}

// flush posts the open album in arrival order, caption on the first
// member, and discards the buffer win or lose. Album sends are never
// retried: a second SendAlbum after an ambiguous failure can double-post
// the whole group.
func (u *Uploader) flush(ctx context.Context) {
	if len(u.buffer) == 0 {
		u.albumID = ""
		return
	}
	items := u.buffer
	albumID := u.albumID
	u.buffer = nil
	u.albumID = ""

	if len(items) == 1 {
		// An album of one, typically a member whose siblings fell outside
		// the run's range. Posted as a plain single.
		u.sendSingle(ctx, items[0])
		return
	}

	outs := make([]*transport.Outgoing, 0, len(items))
	for i, it := range items {
		outs = append(outs, u.outgoing(it, i == 0))
	}

	err := u.waitOut(ctx, func() error {
		return u.o.Client.SendAlbum(ctx, u.o.Target, outs)
	})
	if err != nil {
		u.stats.Failed += len(items)
		prometheus.Uploads.WithLabelValues("album", "failed").Inc()
		logs.CtxError(ctx, "[upload] album %s with %d items failed, members discarded: %v", albumID, len(items), err)
	} else {
		u.stats.Albums++
		for _, out := range outs {
			u.stats.Bytes += int64(len(out.Bytes))
		}
		prometheus.Uploads.WithLabelValues("album", "ok").Inc()
		logs.CtxInfo(ctx, "[upload] album %s posted, %d items", albumID, len(items))
	}
	u.cleanup(items, err == nil)
	u.pause(ctx)
}

// sendSingle posts one media item. Transient failures get exactly one
// retry; rate limits are waited out and do not count as the retry.
func (u *Uploader) sendSingle(ctx context.Context, item *FetchedItem) {
	out := u.outgoing(item, true)
	send := func() error {
		return u.waitOut(ctx, func() error {
			return u.o.Client.SendMedia(ctx, u.o.Target, out)
		})
	}

	err := send()
	if err != nil && ctx.Err() == nil && transport.IsTransient(err) {
		logs.CtxWarn(ctx, "[upload] message %d failed, retrying once: %v", item.Desc.ID, err)
		err = send()
	}
	if err != nil {
		u.stats.Failed++
		prometheus.Uploads.WithLabelValues("single", "failed").Inc()
		logs.CtxError(ctx, "[upload] message %d discarded: %v", item.Desc.ID, err)
	} else {
		u.stats.Singles++
		u.stats.Bytes += int64(len(out.Bytes))
		prometheus.Uploads.WithLabelValues("single", "ok").Inc()
	}
	u.cleanup([]*FetchedItem{item}, err == nil)
	u.pause(ctx)
}

// sendText forwards a text message's body.
func (u *Uploader) sendText(ctx context.Context, item *FetchedItem) {
	err := u.waitOut(ctx, func() error {
		return u.o.Client.SendText(ctx, u.o.Target, item.Desc.Caption)
	})
	if err != nil {
		u.stats.Failed++
		prometheus.Uploads.WithLabelValues("text", "failed").Inc()
		logs.CtxError(ctx, "[upload] text %d discarded: %v", item.Desc.ID, err)
	} else {
		u.stats.Texts++
		prometheus.Uploads.WithLabelValues("text", "ok").Inc()
	}
	u.pause(ctx)
}

// waitOut runs one send, sleeping out rate limits and repeating the same
// call. A flood-waited call was rejected before execution, so repeating it
// cannot double-post.
func (u *Uploader) waitOut(ctx context.Context, op func() error) error {
	for {
		err := op()
		rl, ok := transport.AsRateLimited(err)
		if !ok {
			return err
		}
		logs.CtxWarn(ctx, "[upload] rate limited, waiting %s", rl.Wait)
		if serr := sleep(ctx, u.clock, rl.Wait); serr != nil {
			return serr
		}
	}
}

// outgoing converts a fetched item for sending. Only the lead position of
// an album carries the caption.
func (u *Uploader) outgoing(item *FetchedItem, lead bool) *transport.Outgoing {
	out := &transport.Outgoing{
		Kind:     item.Desc.Kind,
		FileName: item.Desc.FileName,
		MimeType: item.Desc.MimeType,
		Size:     item.Desc.SizeEstimate,
		Bytes:    item.Data,
		Path:     item.Path,
	}
	if out.FileName == "" {
		out.FileName = MediaFileName(&item.Desc)
	}
	if u.o.PreserveCaptions && lead {
		out.Caption = item.Desc.Caption
	}
	return out
}

// cleanup releases payload memory and, for sent hybrid files, applies the
// retention knob. Deletion happens strictly after a successful send.
func (u *Uploader) cleanup(items []*FetchedItem, sent bool) {
	for _, it := range items {
		it.Data = nil
		if sent && u.o.DeleteAfterUpload && it.Path != "" {
			if err := os.Remove(it.Path); err != nil {
				logs.Warn("[upload] delete %s: %v", it.Path, err)
			}
		}
	}
}

func (u *Uploader) pause(ctx context.Context) {
	_ = sleep(ctx, u.clock, u.delay)
}
