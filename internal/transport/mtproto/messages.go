package mtproto

import (
	"context"
	"fmt"
	"strings"

	"github.com/gotd/td/tg"

	"github.com/tgmirror/ferry/internal/transport"
)

// GetChat resolves a public channel handle to its id, title and input peer.
func (c *Client) GetChat(ctx context.Context, handle string) (*transport.Channel, error) {
	username := strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if username == "" {
		return nil, fmt.Errorf("channel handle is empty")
	}

	c.take()
	resolved, err := c.api.ContactsResolveUsername(ctx, username)
	if err != nil {
		return nil, classify(err)
	}

	for _, chat := range resolved.Chats {
		ch, ok := chat.(*tg.Channel)
		if !ok {
			continue
		}
		return &transport.Channel{
			ID:       ch.ID,
			Username: ch.Username,
			Title:    ch.Title,
			Raw: &tg.InputPeerChannel{
				ChannelID:  ch.ID,
				AccessHash: ch.AccessHash,
			},
		}, nil
	}

	return nil, fmt.Errorf("%s does not resolve to a channel", handle)
}

// GetMessages fetches ids from the channel in one call. The result is
// aligned with ids; deleted messages come back as nil.
func (c *Client) GetMessages(ctx context.Context, ch *transport.Channel, ids []int) ([]*transport.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	input, err := inputChannel(ch)
	if err != nil {
		return nil, err
	}

	reqIDs := make([]tg.InputMessageClass, 0, len(ids))
	for _, id := range ids {
		reqIDs = append(reqIDs, &tg.InputMessageID{ID: id})
	}

	c.take()
	res, err := c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: input,
		ID:      reqIDs,
	})
	if err != nil {
		return nil, classify(err)
	}

	var raw []tg.MessageClass
	switch m := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = m.Messages
	case *tg.MessagesMessages:
		raw = m.Messages
	case *tg.MessagesMessagesSlice:
		raw = m.Messages
	default:
		return nil, fmt.Errorf("unexpected messages response %T", res)
	}

	byID := make(map[int]*transport.Message, len(raw))
	for _, mc := range raw {
		msg, ok := mc.(*tg.Message)
		if !ok {
			// MessageEmpty marks a deleted id; service messages carry
			// nothing downloadable either.
			continue
		}
		byID[msg.ID] = convert(msg)
	}

	out := make([]*transport.Message, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out, nil
}

func inputChannel(ch *transport.Channel) (*tg.InputChannel, error) {
	if ch == nil {
		return nil, fmt.Errorf("channel is nil")
	}
	peer, ok := ch.Raw.(*tg.InputPeerChannel)
	if !ok {
		return nil, fmt.Errorf("channel %d was not resolved by this transport", ch.ID)
	}
	return &tg.InputChannel{
		ChannelID:  peer.ChannelID,
		AccessHash: peer.AccessHash,
	}, nil
}

func inputPeer(ch *transport.Channel) (tg.InputPeerClass, error) {
	if ch == nil {
		return nil, fmt.Errorf("channel is nil")
	}
	peer, ok := ch.Raw.(*tg.InputPeerChannel)
	if !ok {
		return nil, fmt.Errorf("channel %d was not resolved by this transport", ch.ID)
	}
	return peer, nil
}
