package mtproto

import (
	"context"
	"errors"
	"net"

	"github.com/gotd/td/tgerr"

	"github.com/tgmirror/ferry/internal/transport"
)

// classify maps protocol and network failures onto the transport error
// taxonomy. Everything the pipeline reacts to goes through here.
func classify(err error) error {
	if err == nil {
		return nil
	}

	// Context cancellation is propagated untouched so callers can tell an
	// operator cancel apart from a wire failure.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &transport.RateLimitedError{Wait: wait}
	}

	var ae *transport.AuthError
	if errors.As(err, &ae) {
		return ae
	}

	if rpc, ok := tgerr.As(err); ok {
		switch {
		case rpc.Code == 401:
			return &transport.AuthError{Reason: rpc.Type}
		case rpc.Code == 403,
			rpc.Type == "CHANNEL_PRIVATE",
			rpc.Type == "CHAT_FORBIDDEN",
			rpc.Type == "CHAT_WRITE_FORBIDDEN":
			return &transport.ForbiddenError{Reason: rpc.Type}
		case rpc.Code >= 500:
			return &transport.TransientError{Err: err}
		default:
			return err
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &transport.TransientError{Err: err}
	}

	return err
}
