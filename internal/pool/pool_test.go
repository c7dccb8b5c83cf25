package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tgmirror/ferry/internal/transport"
	"github.com/tgmirror/ferry/internal/transport/transporttest"
)

func newFakes(names ...string) ([]transport.Client, []*transporttest.Fake) {
	clients := make([]transport.Client, 0, len(names))
	fakes := make([]*transporttest.Fake, 0, len(names))
	for _, n := range names {
		f := &transporttest.Fake{SessionName: n}
		clients = append(clients, f)
		fakes = append(fakes, f)
	}
	return clients, fakes
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("New with zero clients should fail")
	}

	clients, _ := newFakes("a", "b", "c", "d", "e")
	if _, err := New(clients); err == nil {
		t.Fatal("New with five clients should fail")
	}

	clients, _ = newFakes("a", "a")
	if _, err := New(clients); err == nil {
		t.Fatal("New with duplicate names should fail")
	}
}

func TestPool_BringOnlinePartialFailure(t *testing.T) {
	ctx := context.Background()
	clients, fakes := newFakes("s1", "s2", "s3")
	fakes[1].ConnectFunc = func(context.Context) error {
		return errors.New("dial: connection refused")
	}

	p, err := New(clients)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(ctx)

	n, err := p.BringOnline(ctx)
	if err != nil {
		t.Fatalf("BringOnline: %v", err)
	}
	if n != 2 {
		t.Fatalf("online count = %d, want 2", n)
	}

	online := p.Online()
	if len(online) != 2 || online[0] != "s1" || online[1] != "s3" {
		t.Fatalf("Online() = %v, want [s1 s3]", online)
	}

	for _, info := range p.Snapshot() {
		if info.Name == "s2" {
			if info.State != StateFailed {
				t.Fatalf("s2 state = %s, want failed", info.State)
			}
			if info.Reason == "" {
				t.Fatal("s2 should carry a failure reason")
			}
		}
	}
}

func TestPool_BringOnlineAllFail(t *testing.T) {
	ctx := context.Background()
	clients, fakes := newFakes("s1", "s2")
	for _, f := range fakes {
		f.ConnectFunc = func(context.Context) error { return errors.New("unauthorized") }
	}

	p, err := New(clients)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(ctx)

	if _, err := p.BringOnline(ctx); !errors.Is(err, ErrNoneOnline) {
		t.Fatalf("BringOnline error = %v, want ErrNoneOnline", err)
	}
}

func TestPool_BringOnlineRepeatedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	clients, fakes := newFakes("s1", "s2")

	connects := make([]int, len(fakes))
	for i := range fakes {
		fakes[i].ConnectFunc = func(context.Context) error {
			connects[i]++
			return nil
		}
	}

	p, err := New(clients)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(ctx)

	for call := 1; call <= 2; call++ {
		n, err := p.BringOnline(ctx)
		if err != nil {
			t.Fatalf("BringOnline #%d: %v", call, err)
		}
		if n != 2 {
			t.Fatalf("BringOnline #%d count = %d, want 2", call, n)
		}
	}
	if connects[0] != 1 || connects[1] != 1 {
		t.Fatalf("connect counts = %v, want one connect per session", connects)
	}

	// A session failed between runs is not reconnected.
	p.Fail("s1", "auth key dropped")
	n, err := p.BringOnline(ctx)
	if err != nil {
		t.Fatalf("BringOnline after fail: %v", err)
	}
	if n != 1 {
		t.Fatalf("online count after fail = %d, want 1", n)
	}
	if connects[0] != 1 {
		t.Fatalf("failed session was reconnected %d times", connects[0]-1)
	}
}

func TestPool_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	clients, _ := newFakes("s1")
	p, err := New(clients)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(ctx)
	if _, err := p.BringOnline(ctx); err != nil {
		t.Fatalf("BringOnline: %v", err)
	}

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.Name != "s1" {
		t.Fatalf("acquired %s, want s1", h.Name)
	}

	got := make(chan *Handle, 1)
	go func() {
		h2, err := p.Acquire(ctx)
		if err != nil {
			t.Errorf("second Acquire: %v", err)
		}
		got <- h2
	}()

	p.Release(h.Name)
	if h2 := <-got; h2.Name != "s1" {
		t.Fatalf("second acquire got %s, want s1", h2.Name)
	}
}

func TestPool_AcquireSkipsRateLimited(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	clients, _ := newFakes("s1", "s2")
	p, err := New(clients, WithClock(fc))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(ctx)
	if _, err := p.BringOnline(ctx); err != nil {
		t.Fatalf("BringOnline: %v", err)
	}

	p.MarkRateLimited("s1", 30*time.Second)
	fc.BlockUntil(1)

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.Name != "s2" {
		t.Fatalf("acquired %s, want s2 while s1 cools down", h.Name)
	}

	got := make(chan *Handle, 1)
	go func() {
		h2, err := p.Acquire(ctx)
		if err != nil {
			t.Errorf("blocked Acquire: %v", err)
		}
		got <- h2
	}()

	fc.Advance(31 * time.Second)
	if h2 := <-got; h2.Name != "s1" {
		t.Fatalf("post-cooldown acquire got %s, want s1", h2.Name)
	}
}

func TestPool_DisableLastOnline(t *testing.T) {
	ctx := context.Background()
	clients, fakes := newFakes("s1", "s2")
	fakes[1].ConnectFunc = func(context.Context) error { return errors.New("down") }

	p, err := New(clients)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(ctx)
	if _, err := p.BringOnline(ctx); err != nil {
		t.Fatalf("BringOnline: %v", err)
	}

	if err := p.Disable("s1"); !errors.Is(err, ErrWouldLeaveNoneOnline) {
		t.Fatalf("Disable error = %v, want ErrWouldLeaveNoneOnline", err)
	}

	online := p.Online()
	if len(online) != 1 || online[0] != "s1" {
		t.Fatalf("s1 should stay online after refused disable, got %v", online)
	}
}

func TestPool_Disable(t *testing.T) {
	ctx := context.Background()
	clients, _ := newFakes("s1", "s2", "s3")
	p, err := New(clients)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(ctx)
	if _, err := p.BringOnline(ctx); err != nil {
		t.Fatalf("BringOnline: %v", err)
	}

	if err := p.Disable("s2"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	online := p.Online()
	if len(online) != 2 || online[0] != "s1" || online[1] != "s3" {
		t.Fatalf("Online() = %v, want [s1 s3]", online)
	}

	if err := p.Disable("nope"); err == nil {
		t.Fatal("Disable of unknown session should fail")
	}
}

func TestPool_FailStaysFailed(t *testing.T) {
	ctx := context.Background()
	clients, _ := newFakes("s1", "s2")
	p, err := New(clients)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(ctx)
	if _, err := p.BringOnline(ctx); err != nil {
		t.Fatalf("BringOnline: %v", err)
	}

	p.Fail("s1", "auth key dropped")

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.Name != "s2" {
		t.Fatalf("acquired %s, want s2", h.Name)
	}
	p.Release(h.Name)

	// Unlike Disable, Fail applies even to the last online session.
	p.Fail("s2", "auth key dropped")
	if _, err := p.Acquire(ctx); !errors.Is(err, ErrNoneOnline) {
		t.Fatalf("Acquire error = %v, want ErrNoneOnline", err)
	}
}

func TestPool_AcquireBeforeBringOnline(t *testing.T) {
	ctx := context.Background()
	clients, _ := newFakes("s1")
	p, err := New(clients)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(ctx)

	if _, err := p.Acquire(ctx); !errors.Is(err, ErrNoneOnline) {
		t.Fatalf("Acquire error = %v, want ErrNoneOnline", err)
	}
}

func TestPool_AcquireContextCancel(t *testing.T) {
	ctx := context.Background()
	clients, _ := newFakes("s1")
	p, err := New(clients)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(ctx)
	if _, err := p.BringOnline(ctx); err != nil {
		t.Fatalf("BringOnline: %v", err)
	}

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() {
		_, err := p.Acquire(waitCtx)
		errc <- err
	}()
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled Acquire error = %v, want context.Canceled", err)
	}

	// The withdrawn waiter must not have leaked the session.
	p.Release(h.Name)
	if h2, err := p.Acquire(ctx); err != nil || h2.Name != "s1" {
		t.Fatalf("Acquire after cancel = %v, %v; want s1", h2, err)
	}
}

func TestPool_ShutdownSweepsAll(t *testing.T) {
	ctx := context.Background()
	clients, fakes := newFakes("s1", "s2", "s3")
	p, err := New(clients)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.BringOnline(ctx); err != nil {
		t.Fatalf("BringOnline: %v", err)
	}

	p.Shutdown(ctx)
	for _, f := range fakes {
		if !f.Closed() {
			t.Fatalf("session %s not closed by Shutdown", f.SessionName)
		}
	}

	p.Shutdown(ctx) // idempotent

	if _, err := p.Acquire(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Acquire after Shutdown = %v, want ErrClosed", err)
	}
	if online := p.Online(); len(online) != 0 {
		t.Fatalf("Online() after Shutdown = %v, want empty", online)
	}
}

func TestPool_LookupOnlineOnly(t *testing.T) {
	ctx := context.Background()
	clients, fakes := newFakes("s1", "s2")
	fakes[1].ConnectFunc = func(context.Context) error { return errors.New("down") }

	p, err := New(clients)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown(ctx)
	if _, err := p.BringOnline(ctx); err != nil {
		t.Fatalf("BringOnline: %v", err)
	}

	h, err := p.Lookup("s1")
	if err != nil {
		t.Fatalf("Lookup(s1): %v", err)
	}
	if h.Index != 0 {
		t.Fatalf("s1 index = %d, want 0", h.Index)
	}
	if _, err := p.Lookup("s2"); err == nil {
		t.Fatal("Lookup of a failed session should error")
	}
	if _, err := p.Lookup("missing"); err == nil {
		t.Fatal("Lookup of an unknown session should error")
	}
}
