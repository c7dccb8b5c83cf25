package transport

import (
	"context"
	"io"
)

// Client is one authenticated, independently rate-limited connection to
// Telegram. All pipeline components talk to this interface; only the
// concrete transport packages touch the underlying protocol library.
type Client interface {
	// Name returns the stable session name this client was built from.
	Name() string

	// Self returns the authorized account behind the session, "@username"
	// form when available. Empty before Connect.
	Self() string

	// Connect establishes the connection and verifies the stored
	// authorization. An unauthorized session returns an AuthError.
	Connect(ctx context.Context) error

	// Close tears the connection down. Safe to call more than once.
	Close(ctx context.Context) error

	// GetChat resolves a channel handle ("@name" or "name") once per run,
	// for directory naming and as the target of follow-up calls.
	GetChat(ctx context.Context, handle string) (*Channel, error)

	// GetMessages fetches the given ids from the channel in one call.
	// The result is aligned with ids; absent (deleted) messages are nil.
	GetMessages(ctx context.Context, ch *Channel, ids []int) ([]*Message, error)

	// StreamMedia writes the message's media to w chunk by chunk and
	// returns the byte count. msg must originate from this transport.
	StreamMedia(ctx context.Context, msg *Message, w io.Writer) (int64, error)

	// DownloadMedia fetches the message's media to path in one shot and
	// returns the final path.
	DownloadMedia(ctx context.Context, msg *Message, path string) (string, error)

	// SendText posts a plain text message to the target channel.
	SendText(ctx context.Context, target *Channel, text string) error

	// SendMedia uploads and posts one media item.
	SendMedia(ctx context.Context, target *Channel, out *Outgoing) error

	// SendAlbum uploads and posts 2-10 items as one media group, in the
	// given order, with the first item's caption as the album caption.
	SendAlbum(ctx context.Context, target *Channel, outs []*Outgoing) error
}
