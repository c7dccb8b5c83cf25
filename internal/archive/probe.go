package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tgmirror/ferry/internal/pkg/logs"
	"github.com/tgmirror/ferry/internal/transport"
)

// probeBatchSize is the id window per GetMessages call during the probe.
const probeBatchSize = 100

// ProbeStats summarizes one probe pass over an id interval.
type ProbeStats struct {
	Scanned        int           `json:"scanned"`
	Media          int           `json:"media"`
	TextOnly       int           `json:"text_only"`
	Absent         int           `json:"absent"`
	FailedBatches  int           `json:"failed_batches"`
	RateLimitWaits int           `json:"rate_limit_waits"`
	Elapsed        time.Duration `json:"elapsed_ns"`
}

// ProbeResult carries the media descriptors and the ids rejected for
// download purposes (absent plus text-only plus failed batches).
type ProbeResult struct {
	Descriptors []Descriptor
	InvalidIDs  []int
	Stats       ProbeStats
}

// Prober classifies a contiguous id interval through one acquired session.
type Prober struct {
	client transport.Client
	clock  clockwork.Clock
}

func NewProber(client transport.Client, clock clockwork.Clock) *Prober {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Prober{client: client, clock: clock}
}

// Probe scans [startID, endID] inclusive in batches. A rate limit pauses
// the probe and retries the same batch; any other batch error invalidates
// that batch's ids and the scan moves on. Descriptors come back in
// ascending id order with no duplicates, size estimates folded in.
func (p *Prober) Probe(ctx context.Context, ch *transport.Channel, startID, endID int) (*ProbeResult, error) {
	if startID <= 0 || endID < startID {
		return nil, fmt.Errorf("probe: invalid id range [%d, %d]", startID, endID)
	}

	res := &ProbeResult{}
	began := p.clock.Now()
	defer func() { res.Stats.Elapsed = p.clock.Since(began) }()

	for lo := startID; lo <= endID; lo += probeBatchSize {
		hi := lo + probeBatchSize - 1
		if hi > endID {
			hi = endID
		}
		ids := make([]int, 0, hi-lo+1)
		for id := lo; id <= hi; id++ {
			ids = append(ids, id)
		}

		msgs, err := p.fetchBatch(ctx, ch, ids, &res.Stats)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logs.CtxWarn(ctx, "[probe] batch %d-%d failed, %d ids marked invalid: %v", lo, hi, len(ids), err)
			res.Stats.FailedBatches++
			res.Stats.Scanned += len(ids)
			res.InvalidIDs = append(res.InvalidIDs, ids...)
			continue
		}

		for i, m := range msgs {
			id := ids[i]
			res.Stats.Scanned++
			switch {
			case m == nil:
				res.Stats.Absent++
				res.InvalidIDs = append(res.InvalidIDs, id)
			case m.Media == nil || !m.Media.Kind.HasMedia():
				// The message exists but has nothing to download.
				res.Stats.TextOnly++
				res.InvalidIDs = append(res.InvalidIDs, id)
			default:
				res.Stats.Media++
				res.Descriptors = append(res.Descriptors, descriptorOf(m))
			}
		}
	}

	logs.CtxInfo(ctx, "[probe] scanned %d ids: %d media, %d text-only, %d absent",
		res.Stats.Scanned, res.Stats.Media, res.Stats.TextOnly, res.Stats.Absent)
	return res, nil
}

// fetchBatch retries the same id window until it passes or fails with a
// non-rate-limit error.
func (p *Prober) fetchBatch(ctx context.Context, ch *transport.Channel, ids []int, stats *ProbeStats) ([]*transport.Message, error) {
	for {
		msgs, err := p.client.GetMessages(ctx, ch, ids)
		if err == nil {
			return msgs, nil
		}
		rl, ok := transport.AsRateLimited(err)
		if !ok {
			return nil, err
		}
		stats.RateLimitWaits++
		logs.CtxWarn(ctx, "[probe] rate limited, batch retries in %s", rl.Wait)
		if err := sleep(ctx, p.clock, rl.Wait); err != nil {
			return nil, err
		}
	}
}

// descriptorOf freezes one probed message. Sizing happens here so later
// stages never consult the transport for it.
func descriptorOf(m *transport.Message) Descriptor {
	d := Descriptor{
		ID:           m.ID,
		AlbumID:      m.AlbumID,
		Kind:         transport.KindText,
		SizeEstimate: EstimateSize(m),
		Caption:      m.Text,
		Date:         m.Date,
	}
	if m.Media != nil {
		d.Kind = m.Media.Kind
		d.FileName = m.Media.FileName
		d.MimeType = m.Media.MimeType
	}
	return d
}

// sleep waits d on the given clock, aborting on ctx cancel. Rate-limit
// waits go through here and are never capped.
func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
