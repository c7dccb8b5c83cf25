package mtproto

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"go.uber.org/ratelimit"

	"github.com/tgmirror/ferry/internal/pkg/logs"
	"github.com/tgmirror/ferry/internal/transport"
)

const (
	// partSize is the transfer chunk size for downloads and uploads.
	// 512 KB is the protocol maximum.
	partSize = 512 * 1024

	defaultRequestsPerSecond = 25
	defaultUploadThreads     = 4
)

func init() {
	_ = transport.Register(transport.MTProto, func(opts transport.Options) (transport.Client, error) {
		return New(opts)
	})
}

var _ transport.Client = (*Client)(nil)

// Client is one MTProto session. All transport.Client methods are safe to
// call only after a successful Connect and before Close.
type Client struct {
	name string
	self string
	opts transport.Options

	client *telegram.Client
	api    *tg.Client
	sender *message.Sender
	upl    *uploader.Uploader
	dl     *downloader.Downloader

	limiter ratelimit.Limiter

	runCancel context.CancelFunc
	runDone   chan struct{}
	closeOnce sync.Once
}

func New(opts transport.Options) (*Client, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("session name is required")
	}
	if opts.AppID == 0 || opts.AppHash == "" {
		return nil, fmt.Errorf("app_id and app_hash are required")
	}
	if opts.SessionFile == "" {
		return nil, fmt.Errorf("session file is required for session %s", opts.Name)
	}

	if err := os.MkdirAll(filepath.Dir(opts.SessionFile), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	tgOpts := telegram.Options{
		SessionStorage: &session.FileStorage{Path: opts.SessionFile},
	}
	if opts.Proxy != "" {
		dial, err := proxyDialer(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", opts.Name, err)
		}
		tgOpts.Resolver = dcs.Plain(dcs.PlainOptions{
			Dial: dial,
		})
	}

	c := &Client{
		name:    opts.Name,
		opts:    opts,
		client:  telegram.NewClient(opts.AppID, opts.AppHash, tgOpts),
		limiter: ratelimit.New(rps),
	}
	return c, nil
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Self() string {
	return c.self
}

// Connect starts the client run loop and verifies the stored authorization.
// The connection stays up until ctx is canceled or Close is called.
func (c *Client) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel
	c.runDone = make(chan struct{})

	ready := make(chan error, 1)

	go func() {
		defer close(c.runDone)
		err := c.client.Run(runCtx, func(ctx context.Context) error {
			status, err := c.client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("auth status check: %w", err)
			}
			if !status.Authorized {
				return &transport.AuthError{Reason: fmt.Sprintf("session %s is not authorized, log it in first", c.name)}
			}
			if u := status.User; u != nil {
				if u.Username != "" {
					c.self = "@" + u.Username
				} else {
					c.self = strings.TrimSpace(u.FirstName + " " + u.LastName)
				}
			}

			c.api = c.client.API()
			c.sender = message.NewSender(c.api)
			c.dl = downloader.NewDownloader().WithPartSize(c.partSize())
			threads := c.opts.UploadThreads
			if threads <= 0 {
				threads = defaultUploadThreads
			}
			c.upl = uploader.NewUploader(c.api).
				WithPartSize(c.partSize()).
				WithThreads(threads)

			select {
			case ready <- nil:
			default:
			}

			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil {
			select {
			case ready <- err:
			default:
			}
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			return classify(err)
		}
		logs.CtxInfo(ctx, "[mtproto] session %s connected", c.name)
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Close stops the run loop and waits for it to exit.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if c.runCancel != nil {
			c.runCancel()
		}
	})
	if c.runDone == nil {
		return nil
	}
	select {
	case <-c.runDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) partSize() int {
	if c.opts.PartSizeKB > 0 {
		return c.opts.PartSizeKB * 1024
	}
	return partSize
}

// take paces API calls on this session.
func (c *Client) take() {
	c.limiter.Take()
}
