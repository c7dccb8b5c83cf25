package mtproto

import (
	"strconv"
	"time"

	"github.com/gotd/td/tg"

	"github.com/tgmirror/ferry/internal/transport"
)

// convert maps a wire message onto the transport-neutral snapshot. This is
// the only place the pipeline's view of a message is derived from protocol
// object shapes.
func convert(m *tg.Message) *transport.Message {
	out := &transport.Message{
		ID:   m.ID,
		Date: time.Unix(int64(m.Date), 0).UTC(),
		Text: m.Message,
		Raw:  m,
	}
	if m.GroupedID != 0 {
		out.AlbumID = strconv.FormatInt(m.GroupedID, 10)
	}
	out.Media = mediaInfo(m.Media)
	return out
}

func mediaInfo(media tg.MessageMediaClass) *transport.MediaInfo {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.AsNotEmpty()
		if !ok {
			return nil
		}
		_, size := largestPhotoSize(photo)
		return &transport.MediaInfo{
			Kind:     transport.KindPhoto,
			Size:     size,
			MimeType: "image/jpeg",
		}

	case *tg.MessageMediaDocument:
		doc, ok := m.Document.AsNotEmpty()
		if !ok {
			return nil
		}
		info := &transport.MediaInfo{
			Kind:     transport.KindDocument,
			Size:     doc.Size,
			MimeType: doc.MimeType,
		}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeVideo:
				if a.RoundMessage {
					info.Kind = transport.KindVideoNote
				} else if info.Kind == transport.KindDocument {
					info.Kind = transport.KindVideo
				}
			case *tg.DocumentAttributeAudio:
				if a.Voice {
					info.Kind = transport.KindVoice
				} else {
					info.Kind = transport.KindAudio
				}
			case *tg.DocumentAttributeAnimated:
				info.Kind = transport.KindAnimation
			case *tg.DocumentAttributeSticker:
				info.Kind = transport.KindSticker
			case *tg.DocumentAttributeFilename:
				info.FileName = a.FileName
			}
		}
		return info

	default:
		// Polls, geo points, web previews and the rest carry nothing
		// downloadable.
		return nil
	}
}

// largestPhotoSize picks the biggest available size variant and returns its
// type tag (needed for the download location) and byte count.
func largestPhotoSize(photo *tg.Photo) (string, int64) {
	var (
		thumbType string
		maxSize   int64
	)
	for _, s := range photo.Sizes {
		switch ps := s.(type) {
		case *tg.PhotoSize:
			if int64(ps.Size) >= maxSize {
				maxSize = int64(ps.Size)
				thumbType = ps.Type
			}
		case *tg.PhotoSizeProgressive:
			var biggest int
			for _, n := range ps.Sizes {
				if n > biggest {
					biggest = n
				}
			}
			if int64(biggest) >= maxSize {
				maxSize = int64(biggest)
				thumbType = ps.Type
			}
		}
	}
	return thumbType, maxSize
}
