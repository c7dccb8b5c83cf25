package monitor

import (
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	hertzprom "github.com/hertz-contrib/monitor-prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/tgmirror/ferry/internal/config"
	"github.com/tgmirror/ferry/internal/pkg/logs"
	"github.com/tgmirror/ferry/internal/pkg/prometheus"
	pkgutils "github.com/tgmirror/ferry/internal/pkg/utils"
	"github.com/tgmirror/ferry/internal/pool"
)

// Options configures the status endpoint. Pool is what /status reports on;
// everything else has a usable default.
type Options struct {
	Bind           string
	RequestTimeout time.Duration
	Pool           *pool.Pool
}

// Server is a small hertz server exposing /health, /status and /metrics
// while an archive run is in flight.
type Server struct {
	pool       *pool.Pool
	httpServer *hzServer.Hertz
	bind       string

	stopOnce sync.Once
}

func NewServer(opts Options) *Server {
	bind := opts.Bind
	if bind == "" {
		bind = "127.0.0.1:9184"
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// hertz logs through hlog; point it at our pipeline so its lines land
	// in the same file as everything else.
	hlog.SetLogger(logs.NewHlogLogger(logs.DefaultLogger()))

	hzSvr := hzServer.Default(
		hzServer.WithHostPorts(bind),
		hzServer.WithReadTimeout(timeout),
		hzServer.WithWriteTimeout(timeout),
		hzServer.WithExitWaitTime(5*time.Second),
		hzServer.WithTracer(hertzprom.NewServerTracer("", "",
			hertzprom.WithDisableServer(true),
			hertzprom.WithRegistry(prometheus.GetRegistry()),
		)),
	)

	s := &Server{
		pool:       opts.Pool,
		httpServer: hzSvr,
		bind:       bind,
	}
	s.registerRoutes()

	return s
}

func (s *Server) Start(ctx context.Context) error {
	host, _, err := net.SplitHostPort(s.bind)
	if err != nil {
		host = s.bind
	}
	if !pkgutils.IsPrivateHost(host) {
		logs.CtxWarn(ctx, "[monitor] %s is not a private address, the status endpoint has no auth", s.bind)
	}

	go s.httpServer.Spin()

	logs.CtxInfo(ctx, "[monitor] listening on %s", s.bind)
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logs.CtxWarn(ctx, "[monitor] shutdown http server error: %v", err)
		}
	})
	return nil
}

type sessionStatus struct {
	Name             string `json:"name"`
	User             string `json:"user,omitempty"`
	State            string `json:"state"`
	Reason           string `json:"reason,omitempty"`
	RateLimitedUntil string `json:"rate_limited_until,omitempty"`
	Acquired         bool   `json:"acquired"`
}

func (s *Server) registerRoutes() {
	s.httpServer.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	s.httpServer.GET("/status", func(ctx context.Context, c *app.RequestContext) {
		var infos []pool.SessionInfo
		if s.pool != nil {
			infos = s.pool.Snapshot()
		}

		sessions := make([]sessionStatus, 0, len(infos))
		for _, info := range infos {
			st := sessionStatus{
				Name:     info.Name,
				User:     info.User,
				State:    info.State.String(),
				Reason:   info.Reason,
				Acquired: info.Acquired,
			}
			if !info.RateLimitedUntil.IsZero() {
				st.RateLimitedUntil = info.RateLimitedUntil.Format(time.RFC3339)
			}
			sessions = append(sessions, st)
		}

		resp := utils.H{"sessions": sessions}
		// Lets an operator confirm which config snapshot this process runs.
		if hash, err := config.Hash(); err == nil {
			resp["config_hash"] = hash
		}
		c.JSON(consts.StatusOK, resp)
	})

	s.httpServer.GET("/metrics", func(ctx context.Context, c *app.RequestContext) {
		families, err := prometheus.GetRegistry().Gather()
		if err != nil {
			c.AbortWithStatus(consts.StatusInternalServerError)
			return
		}

		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				c.AbortWithStatus(consts.StatusInternalServerError)
				return
			}
		}

		c.Data(consts.StatusOK, string(expfmt.FmtText), buf.Bytes())
	})
}
