package archive

import (
	"strings"
	"testing"

	"github.com/tgmirror/ferry/internal/transport"
)

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Tech News", "Tech News"},
		{`A<B>C:"D"/E\F|G?H*I`, "A_B_C__D__E_F_G_H_I"},
		{"tabs\tand\nnewlines", "tabs_and_newlines"},
		{"  .trimmed.  ", "trimmed"},
		{"...", ""},
		{"中文频道名", "中文频道名"},
	}
	for _, tt := range tests {
		if got := SanitizeTitle(tt.in); got != tt.want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeTitle_RuneLimit(t *testing.T) {
	long := strings.Repeat("字", 150)
	got := SanitizeTitle(long)
	if n := len([]rune(got)); n != 100 {
		t.Errorf("got %d runes, want 100", n)
	}

	// Truncation that lands on a dot must still trim it.
	dotted := strings.Repeat("a", 99) + "." + strings.Repeat("b", 50)
	got = SanitizeTitle(dotted)
	if strings.HasSuffix(got, ".") {
		t.Errorf("trailing dot survived truncation: %q", got)
	}
}

func TestSanitizeTitle_Idempotent(t *testing.T) {
	inputs := []string{
		"Tech News", `A<B>C`, "  .trimmed.  ", strings.Repeat("字", 150) + ". ",
		"control\x01chars", "",
	}
	for _, in := range inputs {
		once := SanitizeTitle(in)
		twice := SanitizeTitle(once)
		if once != twice {
			t.Errorf("SanitizeTitle not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestChannelDirName(t *testing.T) {
	tests := []struct {
		ch     *transport.Channel
		handle string
		want   string
	}{
		{&transport.Channel{ID: 1, Username: "technews", Title: "Tech News"}, "@technews", "@technews-Tech News"},
		{&transport.Channel{ID: 2, Title: "Private: Channel"}, "@Alias", "@alias-Private_ Channel"},
		{&transport.Channel{ID: 3, Username: "bare"}, "@bare", "@bare-channel-3"},
		{&transport.Channel{ID: 4, Username: "dots", Title: "..."}, "@dots", "@dots-channel-4"},
	}
	for _, tt := range tests {
		if got := ChannelDirName(tt.ch, tt.handle); got != tt.want {
			t.Errorf("ChannelDirName(%+v, %q) = %q, want %q", tt.ch, tt.handle, got, tt.want)
		}
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		desc Descriptor
		want string
	}{
		{Descriptor{FileName: "report.PDF", Kind: transport.KindDocument}, ".pdf"},
		{Descriptor{MimeType: "video/mp4", Kind: transport.KindDocument}, ".mp4"},
		{Descriptor{Kind: transport.KindPhoto}, ".jpg"},
		{Descriptor{Kind: transport.KindVoice}, ".ogg"},
		{Descriptor{Kind: transport.KindDocument}, ".bin"},
		// A dot-terminated filename has no usable extension.
		{Descriptor{FileName: "trailing.", MimeType: "image/png", Kind: transport.KindPhoto}, ".png"},
		// Extensions with path-hostile characters are ignored.
		{Descriptor{FileName: "weird.j~g", Kind: transport.KindPhoto}, ".jpg"},
	}
	for _, tt := range tests {
		if got := ExtensionFor(&tt.desc); got != tt.want {
			t.Errorf("ExtensionFor(%+v) = %q, want %q", tt.desc, got, tt.want)
		}
	}
}

func TestMediaFileName(t *testing.T) {
	album := Descriptor{ID: 205, AlbumID: "777", Kind: transport.KindPhoto}
	if got := MediaFileName(&album); got != "777-205.jpg" {
		t.Errorf("album member name = %q, want 777-205.jpg", got)
	}
	single := Descriptor{ID: 9, Kind: transport.KindVideo}
	if got := MediaFileName(&single); got != "msg-9.mp4" {
		t.Errorf("singleton name = %q, want msg-9.mp4", got)
	}
}
