package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tgmirror/ferry/internal/transport"
	"github.com/tgmirror/ferry/internal/transport/transporttest"
)

func probeChannel() *transport.Channel {
	return &transport.Channel{ID: 1, Username: "src", Title: "Source"}
}

// photoMessages fills a Messages map with photo messages for every id.
func photoMessages(lo, hi int) map[int]*transport.Message {
	msgs := make(map[int]*transport.Message, hi-lo+1)
	for id := lo; id <= hi; id++ {
		msgs[id] = transporttest.Msg(id, transport.KindPhoto, "")
	}
	return msgs
}

func assertAscending(t *testing.T, descs []Descriptor) {
	t.Helper()
	for i := 1; i < len(descs); i++ {
		if descs[i].ID <= descs[i-1].ID {
			t.Fatalf("descriptor ids not strictly ascending at %d: %d then %d", i, descs[i-1].ID, descs[i].ID)
		}
	}
}

func TestProbe_Classification(t *testing.T) {
	f := &transporttest.Fake{
		SessionName: "s1",
		Messages: map[int]*transport.Message{
			1: transporttest.Msg(1, transport.KindPhoto, ""),
			2: transporttest.Msg(2, transport.KindText, ""),
			4: transporttest.Msg(4, transport.KindVideo, "alb"),
		},
	}
	res, err := NewProber(f, nil).Probe(context.Background(), probeChannel(), 1, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Descriptors) != 2 {
		t.Fatalf("got %d descriptors, want 2", len(res.Descriptors))
	}
	if res.Descriptors[0].ID != 1 || res.Descriptors[0].Kind != transport.KindPhoto {
		t.Errorf("descriptor 0 = %+v", res.Descriptors[0])
	}
	if res.Descriptors[1].ID != 4 || res.Descriptors[1].AlbumID != "alb" {
		t.Errorf("descriptor 1 = %+v", res.Descriptors[1])
	}
	assertAscending(t, res.Descriptors)

	wantInvalid := []int{2, 3, 5}
	if len(res.InvalidIDs) != len(wantInvalid) {
		t.Fatalf("invalid ids = %v, want %v", res.InvalidIDs, wantInvalid)
	}
	for i, id := range wantInvalid {
		if res.InvalidIDs[i] != id {
			t.Errorf("invalid ids = %v, want %v", res.InvalidIDs, wantInvalid)
			break
		}
	}

	s := res.Stats
	if s.Scanned != 5 || s.Media != 2 || s.TextOnly != 1 || s.Absent != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestProbe_InvalidRange(t *testing.T) {
	f := &transporttest.Fake{SessionName: "s1"}
	p := NewProber(f, nil)
	if _, err := p.Probe(context.Background(), probeChannel(), 0, 5); err == nil {
		t.Fatal("expected error for start id 0")
	}
	if _, err := p.Probe(context.Background(), probeChannel(), 5, 4); err == nil {
		t.Fatal("expected error for end before start")
	}
}

func TestProbe_RateLimitRetriesSameBatch(t *testing.T) {
	fc := clockwork.NewFakeClock()
	f := &transporttest.Fake{SessionName: "s1", Messages: photoMessages(1, 150)}

	calls := 0
	f.GetMessagesFunc = func(ctx context.Context, ch *transport.Channel, ids []int) ([]*transport.Message, error) {
		calls++
		if calls == 2 {
			return nil, &transport.RateLimitedError{Wait: 5 * time.Second}
		}
		return f.DefaultGetMessages(ctx, ch, ids)
	}

	type outcome struct {
		res *ProbeResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := NewProber(f, fc).Probe(context.Background(), probeChannel(), 1, 150)
		done <- outcome{res, err}
	}()

	fc.BlockUntil(1)
	fc.Advance(5 * time.Second)
	out := <-done
	if out.err != nil {
		t.Fatalf("unexpected error: %v", out.err)
	}

	// Batch one passed, batch two was rejected once and retried once.
	if calls != 3 {
		t.Errorf("got %d GetMessages calls, want 3", calls)
	}
	if out.res.Stats.RateLimitWaits != 1 {
		t.Errorf("rate limit waits = %d, want 1", out.res.Stats.RateLimitWaits)
	}
	if len(out.res.Descriptors) != 150 {
		t.Errorf("got %d descriptors, want 150 with no duplicates", len(out.res.Descriptors))
	}
	assertAscending(t, out.res.Descriptors)
}

func TestProbe_FailedBatchInvalidatesAndContinues(t *testing.T) {
	f := &transporttest.Fake{SessionName: "s1", Messages: photoMessages(1, 150)}
	calls := 0
	f.GetMessagesFunc = func(ctx context.Context, ch *transport.Channel, ids []int) ([]*transport.Message, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("server error")
		}
		return f.DefaultGetMessages(ctx, ch, ids)
	}

	res, err := NewProber(f, nil).Probe(context.Background(), probeChannel(), 1, 150)
	if err != nil {
		t.Fatalf("a failed batch must not abort the probe: %v", err)
	}
	if res.Stats.FailedBatches != 1 {
		t.Errorf("failed batches = %d, want 1", res.Stats.FailedBatches)
	}
	if len(res.InvalidIDs) != 100 {
		t.Errorf("got %d invalid ids, want the full first batch", len(res.InvalidIDs))
	}
	if len(res.Descriptors) != 50 {
		t.Errorf("got %d descriptors, want 50 from the surviving batch", len(res.Descriptors))
	}
	if res.Stats.Scanned != 150 {
		t.Errorf("scanned = %d, want 150", res.Stats.Scanned)
	}
}

func TestProbe_SizeEstimates(t *testing.T) {
	sized := transporttest.Msg(2, transport.KindDocument, "")
	sized.Media.Size = 12345
	f := &transporttest.Fake{
		SessionName: "s1",
		Messages: map[int]*transport.Message{
			1: transporttest.Msg(1, transport.KindPhoto, ""),
			2: sized,
			3: transporttest.Msg(3, transport.KindVideo, ""),
		},
	}
	res, err := NewProber(f, nil).Probe(context.Background(), probeChannel(), 1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int64{3 << 20, 12345, 37 << 20}
	for i, d := range res.Descriptors {
		if d.SizeEstimate != want[i] {
			t.Errorf("descriptor %d size = %d, want %d", d.ID, d.SizeEstimate, want[i])
		}
	}
}

func TestProbe_CaptionCarried(t *testing.T) {
	m := transporttest.Msg(1, transport.KindPhoto, "alb")
	m.Text = "the caption"
	f := &transporttest.Fake{SessionName: "s1", Messages: map[int]*transport.Message{1: m}}

	res, err := NewProber(f, nil).Probe(context.Background(), probeChannel(), 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Descriptors[0].Caption != "the caption" {
		t.Errorf("caption = %q", res.Descriptors[0].Caption)
	}
}
