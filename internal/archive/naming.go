package archive

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tgmirror/ferry/internal/transport"
)

// titleRuneLimit caps sanitized titles in code points, not bytes, so CJK
// titles keep a sensible length.
const titleRuneLimit = 100

const invalidNameRunes = `<>:"/\|?*`

// SanitizeTitle makes a channel title safe as a directory name component:
// reserved and control characters become '_', surrounding whitespace and
// dots are trimmed, and the result is capped at 100 code points.
// Sanitizing an already-sanitized title is a no-op.
func SanitizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		if unicode.IsControl(r) || strings.ContainsRune(invalidNameRunes, r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	s := strings.Trim(b.String(), " .")
	if utf8.RuneCountInString(s) > titleRuneLimit {
		runes := []rune(s)
		// Truncation can expose a new trailing dot or space.
		s = strings.Trim(string(runes[:titleRuneLimit]), " .")
	}
	return s
}

// ChannelDirName builds the per-run directory name, "@user-Title" style.
// Channels without a public username fall back to the operator-supplied
// handle; an empty title falls back to the channel id.
func ChannelDirName(ch *transport.Channel, handle string) string {
	user := ch.Username
	if user == "" {
		user = strings.ToLower(strings.TrimPrefix(handle, "@"))
	}
	title := SanitizeTitle(ch.Title)
	if title == "" {
		title = fmt.Sprintf("channel-%d", ch.ID)
	}
	return "@" + user + "-" + title
}

// extByMime covers the media MIME types Telegram commonly declares.
var extByMime = map[string]string{
	"image/jpeg":              ".jpg",
	"image/png":               ".png",
	"image/webp":              ".webp",
	"image/gif":               ".gif",
	"video/mp4":               ".mp4",
	"video/quicktime":         ".mov",
	"video/webm":              ".webm",
	"video/x-matroska":        ".mkv",
	"audio/mpeg":              ".mp3",
	"audio/mp4":               ".m4a",
	"audio/ogg":               ".ogg",
	"audio/flac":              ".flac",
	"audio/x-wav":             ".wav",
	"application/pdf":         ".pdf",
	"application/zip":         ".zip",
	"application/x-tgsticker": ".tgs",
	"text/plain":              ".txt",
}

var extByKind = map[transport.Kind]string{
	transport.KindPhoto:     ".jpg",
	transport.KindVideo:     ".mp4",
	transport.KindAudio:     ".mp3",
	transport.KindVoice:     ".ogg",
	transport.KindVideoNote: ".mp4",
	transport.KindAnimation: ".mp4",
	transport.KindSticker:   ".webp",
}

// ExtensionFor resolves a file extension: the declared filename first,
// then the MIME table, then the kind default, then ".bin".
func ExtensionFor(d *Descriptor) string {
	if ext := strings.ToLower(filepath.Ext(d.FileName)); extUsable(ext) {
		return ext
	}
	if ext, ok := extByMime[strings.ToLower(d.MimeType)]; ok {
		return ext
	}
	if ext, ok := extByKind[d.Kind]; ok {
		return ext
	}
	return ".bin"
}

// extUsable accepts short alphanumeric extensions only; declared filenames
// come from the wire and are not trusted as path material.
func extUsable(ext string) bool {
	if len(ext) < 2 || len(ext) > 10 || ext[0] != '.' {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// MediaFileName names a media file inside the channel directory. Album
// members share their album prefix and sort next to their siblings;
// singletons sort by id.
func MediaFileName(d *Descriptor) string {
	ext := ExtensionFor(d)
	if d.AlbumID != "" {
		return fmt.Sprintf("%s-%d%s", d.AlbumID, d.ID, ext)
	}
	return fmt.Sprintf("msg-%d%s", d.ID, ext)
}
