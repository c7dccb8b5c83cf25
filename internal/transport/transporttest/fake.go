// Package transporttest provides a scriptable in-memory transport.Client
// for tests, in the spirit of net/http/httptest.
package transporttest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tgmirror/ferry/internal/transport"
)

var _ transport.Client = (*Fake)(nil)

// Sent records one send call against the fake, in call order. Kind is
// "text", "single" or "album". Calls are recorded before any scripted
// error fires, so the slice counts attempts, not successes.
type Sent struct {
	Kind  string
	Text  string
	Item  *transport.Outgoing
	Album []*transport.Outgoing
}

// Fake is an in-memory transport.Client. The zero value plus SessionName
// is usable; data maps feed the default method implementations and the
// *Func fields override individual methods for error scripting.
type Fake struct {
	SessionName string
	User        string

	// Data served by the default implementations.
	Chat     *transport.Channel
	Messages map[int]*transport.Message
	Media    map[int][]byte

	// Per-method overrides, nil means default behavior.
	ConnectFunc     func(ctx context.Context) error
	GetChatFunc     func(ctx context.Context, handle string) (*transport.Channel, error)
	GetMessagesFunc func(ctx context.Context, ch *transport.Channel, ids []int) ([]*transport.Message, error)
	StreamFunc      func(ctx context.Context, msg *transport.Message, w io.Writer) (int64, error)
	DownloadFunc    func(ctx context.Context, msg *transport.Message, path string) (string, error)
	SendTextFunc    func(ctx context.Context, target *transport.Channel, text string) error
	SendMediaFunc   func(ctx context.Context, target *transport.Channel, out *transport.Outgoing) error
	SendAlbumFunc   func(ctx context.Context, target *transport.Channel, outs []*transport.Outgoing) error

	mu        sync.Mutex
	connected bool
	closed    bool
	getCalls  int
	sent      []Sent
}

func (f *Fake) Name() string { return f.SessionName }

func (f *Fake) Self() string { return f.User }

func (f *Fake) Connect(ctx context.Context) error {
	if f.ConnectFunc != nil {
		if err := f.ConnectFunc(ctx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) Close(context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) GetChat(ctx context.Context, handle string) (*transport.Channel, error) {
	if f.GetChatFunc != nil {
		return f.GetChatFunc(ctx, handle)
	}
	if f.Chat != nil {
		return f.Chat, nil
	}
	return &transport.Channel{
		ID:       1,
		Username: strings.TrimPrefix(handle, "@"),
		Title:    "Test Channel",
	}, nil
}

func (f *Fake) GetMessages(ctx context.Context, ch *transport.Channel, ids []int) ([]*transport.Message, error) {
	f.mu.Lock()
	f.getCalls++
	f.mu.Unlock()
	if f.GetMessagesFunc != nil {
		return f.GetMessagesFunc(ctx, ch, ids)
	}
	return f.DefaultGetMessages(ctx, ch, ids)
}

// DefaultGetMessages serves the Messages map, nil for unknown ids. Override
// funcs can delegate to it after injecting their errors.
func (f *Fake) DefaultGetMessages(_ context.Context, _ *transport.Channel, ids []int) ([]*transport.Message, error) {
	out := make([]*transport.Message, len(ids))
	for i, id := range ids {
		out[i] = f.Messages[id]
	}
	return out, nil
}

func (f *Fake) StreamMedia(ctx context.Context, msg *transport.Message, w io.Writer) (int64, error) {
	if f.StreamFunc != nil {
		return f.StreamFunc(ctx, msg, w)
	}
	return f.DefaultStreamMedia(ctx, msg, w)
}

// DefaultStreamMedia writes the Media map entry for the message id.
func (f *Fake) DefaultStreamMedia(_ context.Context, msg *transport.Message, w io.Writer) (int64, error) {
	data, ok := f.Media[msg.ID]
	if !ok {
		return 0, fmt.Errorf("no media scripted for message %d", msg.ID)
	}
	n, err := w.Write(data)
	return int64(n), err
}

func (f *Fake) DownloadMedia(ctx context.Context, msg *transport.Message, path string) (string, error) {
	if f.DownloadFunc != nil {
		return f.DownloadFunc(ctx, msg, path)
	}
	return f.DefaultDownloadMedia(ctx, msg, path)
}

// DefaultDownloadMedia writes the Media map entry to path.
func (f *Fake) DefaultDownloadMedia(_ context.Context, msg *transport.Message, path string) (string, error) {
	data, ok := f.Media[msg.ID]
	if !ok {
		return "", fmt.Errorf("no media scripted for message %d", msg.ID)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *Fake) SendText(ctx context.Context, target *transport.Channel, text string) error {
	f.record(Sent{Kind: "text", Text: text})
	if f.SendTextFunc != nil {
		return f.SendTextFunc(ctx, target, text)
	}
	return nil
}

func (f *Fake) SendMedia(ctx context.Context, target *transport.Channel, out *transport.Outgoing) error {
	f.record(Sent{Kind: "single", Item: out})
	if f.SendMediaFunc != nil {
		return f.SendMediaFunc(ctx, target, out)
	}
	return nil
}

func (f *Fake) SendAlbum(ctx context.Context, target *transport.Channel, outs []*transport.Outgoing) error {
	f.record(Sent{Kind: "album", Album: append([]*transport.Outgoing(nil), outs...)})
	if f.SendAlbumFunc != nil {
		return f.SendAlbumFunc(ctx, target, outs)
	}
	return nil
}

func (f *Fake) record(s Sent) {
	f.mu.Lock()
	f.sent = append(f.sent, s)
	f.mu.Unlock()
}

// Sent returns a copy of every send attempt so far.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// Connected reports whether Connect succeeded.
func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// GetMessagesCalls counts GetMessages invocations, overrides included.
func (f *Fake) GetMessagesCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

// Msg builds a message for the Messages map. A media kind yields a message
// with MediaInfo and no declared size; KindText yields a text-only message
// with a deterministic body. Callers adjust fields afterwards as needed.
func Msg(id int, kind transport.Kind, albumID string) *transport.Message {
	m := &transport.Message{
		ID:      id,
		AlbumID: albumID,
		Date:    time.Unix(1700000000+int64(id), 0).UTC(),
	}
	if kind == transport.KindText {
		m.Text = fmt.Sprintf("text message %d", id)
		return m
	}
	m.Media = &transport.MediaInfo{Kind: kind}
	return m
}
