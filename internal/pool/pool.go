package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/tgmirror/ferry/internal/pkg/logs"
	"github.com/tgmirror/ferry/internal/pkg/prometheus"
	"github.com/tgmirror/ferry/internal/transport"
)

// MaxSessions bounds the pool size. Telegram rate-limits per account long
// before more parallel sessions would pay off.
const MaxSessions = 4

var (
	// ErrNoneOnline means no session is online and none can still come online.
	ErrNoneOnline = errors.New("pool: no sessions online")

	// ErrWouldLeaveNoneOnline rejects a Disable aimed at the last online session.
	ErrWouldLeaveNoneOnline = errors.New("pool: disable would leave no sessions online")

	// ErrClosed is returned for requests made after Shutdown.
	ErrClosed = errors.New("pool: closed")
)

// State is a session's lifecycle position. Rate limiting is not a State:
// a cooling-down session stays online and keeps its assignment, it just
// cannot be acquired until the deadline passes.
type State int

const (
	StateOffline State = iota
	StateConnecting
	StateOnline
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateConnecting:
		return "connecting"
	case StateOnline:
		return "online"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handle is one pooled session. The pointer is stable for the pool's
// lifetime and is what Acquire hands out.
type Handle struct {
	Name   string
	Index  int
	Client transport.Client
}

// SessionInfo is a point-in-time view of one session for status output.
type SessionInfo struct {
	Name             string
	User             string
	State            State
	Reason           string
	RateLimitedUntil time.Time
	Acquired         bool
}

// Pool owns up to MaxSessions transport handles. One goroutine owns all
// mutable state; the exported methods talk to it through typed requests,
// so there is no lock to misuse and no double-transition hazard.
type Pool struct {
	handles  []*Handle
	clock    clockwork.Clock
	requests chan any
	done     chan struct{}
	stopOnce sync.Once
}

type Option func(*Pool)

// WithClock swaps the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// New builds a pool over pre-constructed clients. Creation of the clients
// themselves (credentials, session files) happens elsewhere; the pool owns
// them from BringOnline to Shutdown.
func New(clients []transport.Client, opts ...Option) (*Pool, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("pool: at least one session is required")
	}
	if len(clients) > MaxSessions {
		return nil, fmt.Errorf("pool: at most %d sessions are supported, got %d", MaxSessions, len(clients))
	}

	p := &Pool{
		clock:    clockwork.NewRealClock(),
		requests: make(chan any, 16),
		done:     make(chan struct{}),
	}
	seen := make(map[string]bool, len(clients))
	for i, c := range clients {
		name := c.Name()
		if name == "" {
			return nil, fmt.Errorf("pool: session #%d has an empty name", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("pool: duplicate session name %s", name)
		}
		seen[name] = true
		p.handles = append(p.handles, &Handle{Name: name, Index: i, Client: c})
	}
	for _, o := range opts {
		o(p)
	}

	go p.loop()
	return p, nil
}

// BringOnline connects every offline handle concurrently. A handle that
// fails to connect is marked failed and excluded for the rest of the pool's
// life without blocking the others; the error is non-nil only when zero
// are online afterwards. Handles already online or failed are left alone,
// so repeated calls between scheduled runs are safe.
func (p *Pool) BringOnline(ctx context.Context) (int, error) {
	infos := p.Snapshot()

	var g errgroup.Group
	for i, h := range p.handles {
		if infos[i].State != StateOffline {
			continue
		}
		p.send(connectingReq{name: h.Name})
		g.Go(func() error {
			if err := h.Client.Connect(ctx); err != nil {
				logs.CtxWarn(ctx, "[pool] session %s failed to connect: %v", h.Name, err)
				p.send(failReq{name: h.Name, reason: err.Error()})
				return nil
			}
			logs.CtxInfo(ctx, "[pool] session %s online", h.Name)
			p.send(onlineReq{name: h.Name})
			return nil
		})
	}
	_ = g.Wait()

	online := p.Online()
	if len(online) == 0 {
		return 0, ErrNoneOnline
	}
	return len(online), nil
}

// Online returns the names of the currently online sessions in configured
// order. The order is stable and assignment-significant.
func (p *Pool) Online() []string {
	req := onlineListReq{resp: make(chan []string, 1)}
	if !p.send(req) {
		return nil
	}
	names, _ := await(p, req.resp)
	return names
}

// Snapshot reports every session's state for status output.
func (p *Pool) Snapshot() []SessionInfo {
	req := snapshotReq{resp: make(chan []SessionInfo, 1)}
	if !p.send(req) {
		return nil
	}
	infos, _ := await(p, req.resp)
	return infos
}

// Acquire hands out an online session that is neither held nor cooling
// down, blocking until one frees up. It fails fast with ErrNoneOnline when
// no session can ever satisfy the request.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	req := acquireReq{resp: make(chan acquireResp, 1)}
	select {
	case p.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrClosed
	}

	select {
	case r := <-req.resp:
		return r.handle, r.err
	case <-ctx.Done():
		// Withdraw the waiter; if it was already fulfilled in the race,
		// hand the session straight back.
		ack := make(chan struct{})
		if p.send(cancelAcquireReq{resp: req.resp, ack: ack}) {
			select {
			case <-ack:
			case <-p.done:
			}
		}
		select {
		case r := <-req.resp:
			if r.handle != nil {
				p.Release(r.handle.Name)
			}
		default:
		}
		return nil, ctx.Err()
	case <-p.done:
		select {
		case r := <-req.resp:
			return r.handle, r.err
		default:
		}
		return nil, ErrClosed
	}
}

// Release returns an acquired session to the pool.
func (p *Pool) Release(name string) {
	p.send(releaseReq{name: name})
}

// Lookup resolves a session name to its handle, online sessions only. The
// fetch phase uses it to bind each worker to its assigned session.
func (p *Pool) Lookup(name string) (*Handle, error) {
	req := lookupReq{name: name, resp: make(chan lookupResp, 1)}
	if !p.send(req) {
		return nil, ErrClosed
	}
	r, ok := await(p, req.resp)
	if !ok {
		return nil, ErrClosed
	}
	return r.handle, r.err
}

// MarkRateLimited keeps Acquire away from the session until wait elapses.
// Assignment membership is untouched: a rate-limited session keeps its
// groups and its fetcher simply stalls.
func (p *Pool) MarkRateLimited(name string, wait time.Duration) {
	if wait <= 0 {
		return
	}
	p.send(markLimitedReq{name: name, wait: wait})
}

// Fail marks a session failed for the rest of the run, auth errors being
// the usual cause. Unlike Disable it always applies.
func (p *Pool) Fail(name, reason string) {
	p.send(failReq{name: name, reason: reason})
}

// Disable removes a session at operator request. Refused with
// ErrWouldLeaveNoneOnline when the target is the last online session, in
// which case the session stays online.
func (p *Pool) Disable(name string) error {
	req := disableReq{name: name, resp: make(chan error, 1)}
	if !p.send(req) {
		return ErrClosed
	}
	err, ok := await(p, req.resp)
	if !ok {
		return ErrClosed
	}
	return err
}

// Shutdown closes every session, best effort. Idempotent, so it is safe
// to defer on every exit path.
func (p *Pool) Shutdown(ctx context.Context) {
	p.stopOnce.Do(func() {
		req := shutdownReq{resp: make(chan struct{})}
		select {
		case p.requests <- req:
			<-req.resp
		case <-p.done:
		}
		close(p.done)

		for _, h := range p.handles {
			if err := h.Client.Close(ctx); err != nil {
				logs.Warn("[pool] close session %s: %v", h.Name, err)
			}
		}
		logs.Info("[pool] shut down")
	})
}

// send queues a request for the actor. False means the pool is closed.
func (p *Pool) send(req any) bool {
	select {
	case p.requests <- req:
		return true
	case <-p.done:
		return false
	}
}

// await reads a reply, draining a reply that raced with shutdown.
func await[T any](p *Pool, resp chan T) (T, bool) {
	select {
	case v := <-resp:
		return v, true
	case <-p.done:
		select {
		case v := <-resp:
			return v, true
		default:
			var zero T
			return zero, false
		}
	}
}

type (
	connectingReq struct{ name string }
	onlineReq     struct{ name string }
	failReq       struct {
		name   string
		reason string
	}
	acquireReq  struct{ resp chan acquireResp }
	acquireResp struct {
		handle *Handle
		err    error
	}
	cancelAcquireReq struct {
		resp chan acquireResp
		ack  chan struct{}
	}
	releaseReq     struct{ name string }
	markLimitedReq struct {
		name string
		wait time.Duration
	}
	cooldownDoneReq struct{ name string }
	disableReq      struct {
		name string
		resp chan error
	}
	onlineListReq struct{ resp chan []string }
	snapshotReq   struct{ resp chan []SessionInfo }
	lookupReq     struct {
		name string
		resp chan lookupResp
	}
	lookupResp struct {
		handle *Handle
		err    error
	}
	shutdownReq struct{ resp chan struct{} }
)

type session struct {
	handle       *Handle
	state        State
	reason       string
	limitedUntil time.Time
	acquired     bool
}

type poolState struct {
	pool     *Pool
	order    []*session
	sessions map[string]*session
	waiters  []chan acquireResp
}

func (p *Pool) loop() {
	st := &poolState{
		pool:     p,
		sessions: make(map[string]*session, len(p.handles)),
	}
	for _, h := range p.handles {
		s := &session{handle: h, state: StateOffline}
		st.order = append(st.order, s)
		st.sessions[h.Name] = s
	}

	for req := range p.requests {
		if st.apply(req) {
			return
		}
	}
}

// apply processes one request. True means shutdown.
func (st *poolState) apply(req any) bool {
	switch r := req.(type) {
	case connectingReq:
		if s := st.sessions[r.name]; s != nil && s.state != StateFailed {
			s.state = StateConnecting
		}

	case onlineReq:
		// Failed stays failed: a disable that raced the connect wins.
		if s := st.sessions[r.name]; s != nil && s.state != StateFailed {
			s.state = StateOnline
			s.reason = ""
		}
		st.refreshGauge()
		st.wake()

	case failReq:
		if s := st.sessions[r.name]; s != nil {
			s.state = StateFailed
			s.reason = r.reason
			s.acquired = false
		}
		st.refreshGauge()
		st.failWaitersIfHopeless()

	case acquireReq:
		if s := st.available(); s != nil {
			s.acquired = true
			r.resp <- acquireResp{handle: s.handle}
			break
		}
		if st.hopeless() {
			r.resp <- acquireResp{err: ErrNoneOnline}
			break
		}
		st.waiters = append(st.waiters, r.resp)

	case cancelAcquireReq:
		for i, w := range st.waiters {
			if w == r.resp {
				st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
				break
			}
		}
		close(r.ack)

	case releaseReq:
		s := st.sessions[r.name]
		if s == nil {
			logs.Warn("[pool] release of unknown session %s", r.name)
			break
		}
		s.acquired = false
		st.wake()

	case markLimitedReq:
		s := st.sessions[r.name]
		if s == nil {
			logs.Warn("[pool] rate-limit mark for unknown session %s", r.name)
			break
		}
		if until := st.pool.clock.Now().Add(r.wait); until.After(s.limitedUntil) {
			s.limitedUntil = until
		}
		prometheus.FloodWaits.WithLabelValues(r.name).Inc()
		prometheus.FloodWaitSeconds.Add(r.wait.Seconds())
		logs.Info("[pool] session %s rate limited for %s", r.name, r.wait)
		st.pool.clock.AfterFunc(r.wait, func() {
			select {
			case st.pool.requests <- cooldownDoneReq{name: r.name}:
			case <-st.pool.done:
			}
		})

	case cooldownDoneReq:
		// A stale timer from an earlier, shorter mark fires before the
		// extended deadline; re-check before waking anyone.
		if s := st.sessions[r.name]; s != nil && !st.pool.clock.Now().Before(s.limitedUntil) {
			st.wake()
		}

	case disableReq:
		r.resp <- st.disable(r.name)

	case onlineListReq:
		r.resp <- st.onlineNames()

	case snapshotReq:
		infos := make([]SessionInfo, 0, len(st.order))
		for _, s := range st.order {
			infos = append(infos, SessionInfo{
				Name:             s.handle.Name,
				User:             s.handle.Client.Self(),
				State:            s.state,
				Reason:           s.reason,
				RateLimitedUntil: s.limitedUntil,
				Acquired:         s.acquired,
			})
		}
		r.resp <- infos

	case lookupReq:
		s := st.sessions[r.name]
		switch {
		case s == nil:
			r.resp <- lookupResp{err: fmt.Errorf("pool: unknown session %s", r.name)}
		case s.state != StateOnline:
			r.resp <- lookupResp{err: fmt.Errorf("pool: session %s is %s", r.name, s.state)}
		default:
			r.resp <- lookupResp{handle: s.handle}
		}

	case shutdownReq:
		st.failWaiters(ErrClosed)
		prometheus.SessionsOnline.Set(0)
		close(r.resp)
		return true
	}
	return false
}

func (st *poolState) disable(name string) error {
	s := st.sessions[name]
	if s == nil {
		return fmt.Errorf("pool: unknown session %s", name)
	}
	if s.state == StateOnline && st.onlineCount() == 1 {
		return ErrWouldLeaveNoneOnline
	}
	s.state = StateFailed
	s.reason = "disabled by operator"
	s.acquired = false
	st.refreshGauge()
	st.failWaitersIfHopeless()
	logs.Info("[pool] session %s disabled", name)
	return nil
}

// available picks the lowest-index session that is online, idle and not
// cooling down.
func (st *poolState) available() *session {
	now := st.pool.clock.Now()
	for _, s := range st.order {
		if s.state == StateOnline && !s.acquired && !now.Before(s.limitedUntil) {
			return s
		}
	}
	return nil
}

// hopeless reports whether no session is online or still connecting, i.e.
// no waiter can ever be served.
func (st *poolState) hopeless() bool {
	for _, s := range st.order {
		if s.state == StateOnline || s.state == StateConnecting {
			return false
		}
	}
	return true
}

func (st *poolState) wake() {
	for len(st.waiters) > 0 {
		s := st.available()
		if s == nil {
			return
		}
		s.acquired = true
		w := st.waiters[0]
		st.waiters = st.waiters[1:]
		w <- acquireResp{handle: s.handle}
	}
}

func (st *poolState) failWaiters(err error) {
	for _, w := range st.waiters {
		w <- acquireResp{err: err}
	}
	st.waiters = nil
}

func (st *poolState) failWaitersIfHopeless() {
	if st.hopeless() {
		st.failWaiters(ErrNoneOnline)
	}
}

func (st *poolState) onlineNames() []string {
	names := make([]string, 0, len(st.order))
	for _, s := range st.order {
		if s.state == StateOnline {
			names = append(names, s.handle.Name)
		}
	}
	return names
}

func (st *poolState) onlineCount() int {
	n := 0
	for _, s := range st.order {
		if s.state == StateOnline {
			n++
		}
	}
	return n
}

func (st *poolState) refreshGauge() {
	prometheus.SessionsOnline.Set(float64(st.onlineCount()))
}
