package transport

import "time"

// Type identifies a transport implementation.
type Type string

const (
	MTProto Type = "mtproto"
)

// Kind is the closed set of message content kinds the pipeline understands.
// The transport adapter is the only place that maps wire shapes onto it.
type Kind string

const (
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindAudio     Kind = "audio"
	KindVoice     Kind = "voice"
	KindVideoNote Kind = "video_note"
	KindAnimation Kind = "animation"
	KindDocument  Kind = "document"
	KindSticker   Kind = "sticker"
	KindText      Kind = "text"
	KindUnknown   Kind = "unknown"
)

// HasMedia reports whether the kind carries downloadable bytes.
func (k Kind) HasMedia() bool {
	switch k {
	case KindPhoto, KindVideo, KindAudio, KindVoice, KindVideoNote, KindAnimation, KindDocument, KindSticker:
		return true
	default:
		return false
	}
}

// Channel is the resolved destination or source chat.
// Raw holds the transport-private handle needed for follow-up calls
// and must be treated as opaque outside the owning transport.
type Channel struct {
	ID       int64
	Username string
	Title    string

	Raw any
}

// MediaInfo describes the downloadable payload of a message.
type MediaInfo struct {
	Kind     Kind
	Size     int64
	FileName string
	MimeType string
}

// Message is a wire-neutral snapshot of one channel message.
// Media is nil for text-only messages. Raw is transport-private and is
// required by StreamMedia/DownloadMedia on the same transport.
type Message struct {
	ID      int
	AlbumID string
	Date    time.Time
	Text    string
	Media   *MediaInfo

	Raw any
}

// Outgoing is one item to publish to a target channel. Exactly one of
// Bytes or Path carries the payload.
type Outgoing struct {
	Kind     Kind
	Caption  string
	FileName string
	MimeType string
	Size     int64

	Bytes []byte
	Path  string
}
