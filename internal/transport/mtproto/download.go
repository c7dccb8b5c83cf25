package mtproto

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gotd/td/tg"

	"github.com/tgmirror/ferry/internal/pkg/utils"
	"github.com/tgmirror/ferry/internal/transport"
)

// StreamMedia writes the message's media to w chunk by chunk.
func (c *Client) StreamMedia(ctx context.Context, msg *transport.Message, w io.Writer) (int64, error) {
	loc, err := fileLocation(msg)
	if err != nil {
		return 0, err
	}

	cw := &countingWriter{w: w}
	c.take()
	if _, err := c.dl.Download(c.api, loc).Stream(ctx, cw); err != nil {
		return cw.n, classify(err)
	}
	return cw.n, nil
}

// DownloadMedia fetches the media to path in one shot. The bytes land in a
// temp file first so a failed transfer never leaves a truncated final file.
func (c *Client) DownloadMedia(ctx context.Context, msg *transport.Message, path string) (string, error) {
	loc, err := fileLocation(msg)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	tmp := path + ".part-" + utils.RandStr(6)
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}

	c.take()
	_, err = c.dl.Download(c.api, loc).Stream(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", classify(err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize media file: %w", err)
	}
	return path, nil
}

// fileLocation extracts the download location from the raw wire message.
func fileLocation(msg *transport.Message) (tg.InputFileLocationClass, error) {
	if msg == nil || msg.Media == nil {
		return nil, fmt.Errorf("message has no media")
	}
	raw, ok := msg.Raw.(*tg.Message)
	if !ok {
		return nil, fmt.Errorf("message %d did not originate from this transport", msg.ID)
	}

	switch m := raw.Media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.AsNotEmpty()
		if !ok {
			return nil, fmt.Errorf("message %d has an empty document", msg.ID)
		}
		return doc.AsInputDocumentFileLocation(), nil

	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.AsNotEmpty()
		if !ok {
			return nil, fmt.Errorf("message %d has an empty photo", msg.ID)
		}
		thumbType, _ := largestPhotoSize(photo)
		if thumbType == "" {
			return nil, fmt.Errorf("message %d has no downloadable photo size", msg.ID)
		}
		return &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumbType,
		}, nil

	default:
		return nil, fmt.Errorf("message %d media %T is not downloadable", msg.ID, raw.Media)
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
