package mtproto

import (
	"context"
	"fmt"

	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/tg"

	"github.com/tgmirror/ferry/internal/transport"
)

// SendText posts a plain text message to the target channel.
func (c *Client) SendText(ctx context.Context, target *transport.Channel, text string) error {
	peer, err := inputPeer(target)
	if err != nil {
		return err
	}

	c.take()
	if _, err := c.sender.To(peer).Text(ctx, text); err != nil {
		return classify(err)
	}
	return nil
}

// SendMedia uploads and posts one media item with its caption.
func (c *Client) SendMedia(ctx context.Context, target *transport.Channel, out *transport.Outgoing) error {
	peer, err := inputPeer(target)
	if err != nil {
		return err
	}

	file, err := c.uploadFile(ctx, out)
	if err != nil {
		return err
	}

	c.take()
	if _, err := c.sender.To(peer).Media(ctx, mediaOption(out, file)); err != nil {
		return classify(err)
	}
	return nil
}

// SendAlbum uploads and posts outs as one media group, preserving order.
// The first item's caption becomes the album caption.
func (c *Client) SendAlbum(ctx context.Context, target *transport.Channel, outs []*transport.Outgoing) error {
	if len(outs) == 0 {
		return nil
	}
	if len(outs) == 1 {
		return c.SendMedia(ctx, target, outs[0])
	}

	peer, err := inputPeer(target)
	if err != nil {
		return err
	}

	items := make([]message.MultiMediaOption, 0, len(outs))
	for _, out := range outs {
		file, err := c.uploadFile(ctx, out)
		if err != nil {
			return err
		}
		items = append(items, mediaOption(out, file))
	}

	c.take()
	if _, err := c.sender.To(peer).Album(ctx, items[0], items[1:]...); err != nil {
		return classify(err)
	}
	return nil
}

// uploadFile pushes the payload bytes to Telegram and returns the input
// file handle for the follow-up send call.
func (c *Client) uploadFile(ctx context.Context, out *transport.Outgoing) (tg.InputFileClass, error) {
	name := out.FileName
	if name == "" {
		name = "file"
	}

	c.take()
	var (
		file tg.InputFileClass
		err  error
	)
	switch {
	case out.Path != "":
		file, err = c.upl.FromPath(ctx, out.Path)
	case out.Bytes != nil:
		file, err = c.upl.FromBytes(ctx, name, out.Bytes)
	default:
		return nil, fmt.Errorf("outgoing item has no payload")
	}
	if err != nil {
		return nil, classify(err)
	}
	return file, nil
}

// mediaOption builds the kind-appropriate send option for one uploaded file.
func mediaOption(out *transport.Outgoing, file tg.InputFileClass) message.MultiMediaOption {
	var caption []styling.StyledTextOption
	if out.Caption != "" {
		caption = append(caption, styling.Plain(out.Caption))
	}

	if out.Kind == transport.KindPhoto {
		return message.UploadedPhoto(file, caption...)
	}

	doc := message.UploadedDocument(file, caption...)
	if out.MimeType != "" {
		doc = doc.MIME(out.MimeType)
	}
	if out.FileName != "" {
		doc = doc.Filename(out.FileName)
	}

	switch out.Kind {
	case transport.KindVideo:
		doc = doc.Attributes(&tg.DocumentAttributeVideo{SupportsStreaming: true})
	case transport.KindVideoNote:
		doc = doc.Attributes(&tg.DocumentAttributeVideo{RoundMessage: true})
	case transport.KindVoice:
		doc = doc.Attributes(&tg.DocumentAttributeAudio{Voice: true})
	case transport.KindAudio:
		doc = doc.Attributes(&tg.DocumentAttributeAudio{})
	case transport.KindAnimation:
		doc = doc.Attributes(&tg.DocumentAttributeAnimated{})
	}
	return doc
}
