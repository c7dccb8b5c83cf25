// Package archive implements the multi-session download/dispatch pipeline:
// probing an id range, balancing album-intact assignments across sessions,
// per-session fetch loops and album-preserving re-uploads.
package archive

import (
	"time"

	"github.com/tgmirror/ferry/internal/transport"
)

// Per-kind fallback sizes for messages whose transport snapshot does not
// declare a concrete file size. Used by the distributor's size metrics.
const (
	sizePhoto     = 3 << 20
	sizeVideo     = 37 << 20
	sizeAudio     = 5 << 20
	sizeDocument  = 10 << 20
	sizeVoice     = 1 << 20
	sizeAnimation = 3 << 20
	sizeOther     = 1 << 20
	sizeText      = 1 << 10
)

// EstimateSize prefers the transport's declared size and falls back to a
// per-kind constant.
func EstimateSize(m *transport.Message) int64 {
	if m.Media == nil {
		return sizeText
	}
	if m.Media.Size > 0 {
		return m.Media.Size
	}
	switch m.Media.Kind {
	case transport.KindPhoto:
		return sizePhoto
	case transport.KindVideo:
		return sizeVideo
	case transport.KindAudio:
		return sizeAudio
	case transport.KindDocument:
		return sizeDocument
	case transport.KindVoice:
		return sizeVoice
	case transport.KindAnimation:
		return sizeAnimation
	default:
		return sizeOther
	}
}

// Descriptor is one probed message, immutable after the probe. Everything
// downstream of the probe works from descriptors and never re-inspects the
// transport message for classification or sizing.
type Descriptor struct {
	ID           int            `json:"id"`
	AlbumID      string         `json:"album_id,omitempty"`
	Kind         transport.Kind `json:"kind"`
	SizeEstimate int64          `json:"size_estimate"`
	Caption      string         `json:"caption,omitempty"`
	Date         time.Time      `json:"date"`
	FileName     string         `json:"file_name,omitempty"`
	MimeType     string         `json:"mime_type,omitempty"`
}

// Group is the unit of assignment: one album, one split chunk of an
// oversized album, or one singleton. Members are id-ascending.
type Group struct {
	// Key is the album id, "<album>_part_<n>" for a split chunk, or
	// "single:<id>" for a singleton.
	Key string `json:"key"`

	// AlbumID is empty for singletons. Split chunks inherit the parent
	// album id, which pins every chunk to the same session.
	AlbumID string `json:"album_id,omitempty"`

	Members []Descriptor `json:"members"`
}

// FileCount is the number of downloadable files in the group. The probe
// emits media-carrying descriptors only, so every member counts.
func (g *Group) FileCount() int {
	return len(g.Members)
}

// SizeEstimate sums the members' estimated sizes.
func (g *Group) SizeEstimate() int64 {
	var sum int64
	for i := range g.Members {
		sum += g.Members[i].SizeEstimate
	}
	return sum
}

// Assignment maps a session name to its ordered group list.
type Assignment map[string][]*Group

// Files counts the downloadable files assigned to one session.
func (a Assignment) Files(session string) int {
	n := 0
	for _, g := range a[session] {
		n += g.FileCount()
	}
	return n
}

// FetchedItem is one downloaded message in transit from a fetcher to an
// uploader. Exactly one of Data or Path carries the payload; both are
// empty for a text item. The uploader owns the item after the handoff.
type FetchedItem struct {
	Desc    Descriptor
	Data    []byte
	Path    string
	Session string
}
