package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tgmirror/ferry/internal/transport"
	"github.com/tgmirror/ferry/internal/transport/transporttest"
)

func uploadTarget() *transport.Channel {
	return &transport.Channel{ID: 2, Username: "mirror", Title: "Mirror"}
}

func mediaItem(id int, albumID, caption string) *FetchedItem {
	return &FetchedItem{
		Desc:    Descriptor{ID: id, AlbumID: albumID, Kind: transport.KindPhoto, Caption: caption},
		Data:    []byte(fmt.Sprintf("payload-%d", id)),
		Session: "s1",
	}
}

func textItem(id int, text string) *FetchedItem {
	return &FetchedItem{
		Desc:    Descriptor{ID: id, Kind: transport.KindText, Caption: text},
		Session: "s1",
	}
}

// runUploader feeds the items through a closed queue and returns the stats.
// Delay defaults to zero here so tests run at full speed.
func runUploader(f *transporttest.Fake, mut func(*UploaderOptions), items ...*FetchedItem) *UploadStats {
	queue := make(chan *FetchedItem, len(items)+1)
	for _, it := range items {
		queue <- it
	}
	close(queue)

	o := UploaderOptions{
		Client:           f,
		Target:           uploadTarget(),
		Queue:            queue,
		PreserveCaptions: true,
		PreserveAlbums:   true,
	}
	if mut != nil {
		mut(&o)
	}
	return NewUploader(o).Run(context.Background())
}

func TestUploader_AlbumFlushedOnClose(t *testing.T) {
	f := &transporttest.Fake{SessionName: "s1"}
	stats := runUploader(f, nil,
		mediaItem(100, "777", "cap-100"),
		mediaItem(101, "777", "cap-101"),
		mediaItem(102, "777", "cap-102"),
		mediaItem(103, "777", "cap-103"),
	)

	sent := f.Sent()
	if len(sent) != 1 || sent[0].Kind != "album" {
		t.Fatalf("sent = %+v, want one album", sent)
	}
	album := sent[0].Album
	if len(album) != 4 {
		t.Fatalf("album size = %d, want 4", len(album))
	}
	for i, out := range album {
		if out.FileName != fmt.Sprintf("777-%d.jpg", 100+i) {
			t.Errorf("member %d file name = %q", i, out.FileName)
		}
	}
	if album[0].Caption != "cap-100" {
		t.Errorf("lead caption = %q, want cap-100", album[0].Caption)
	}
	for i := 1; i < len(album); i++ {
		if album[i].Caption != "" {
			t.Errorf("member %d carries a caption: %q", i, album[i].Caption)
		}
	}
	if stats.Albums != 1 || stats.Singles != 0 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUploader_AlbumCapSplits(t *testing.T) {
	f := &transporttest.Fake{SessionName: "s1"}
	var items []*FetchedItem
	for i := 0; i < 11; i++ {
		items = append(items, mediaItem(200+i, "888", ""))
	}
	stats := runUploader(f, nil, items...)

	sent := f.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %+v, want an album and a single", sent)
	}
	if sent[0].Kind != "album" || len(sent[0].Album) != 10 {
		t.Errorf("first send = %s with %d members, want album of 10", sent[0].Kind, len(sent[0].Album))
	}
	// The eleventh member flushes alone at queue close.
	if sent[1].Kind != "single" {
		t.Errorf("second send = %s, want single", sent[1].Kind)
	}
	if stats.Albums != 1 || stats.Singles != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUploader_LongAlbumFlushesInCaps(t *testing.T) {
	f := &transporttest.Fake{SessionName: "s1"}
	var items []*FetchedItem
	for i := 0; i < 22; i++ {
		items = append(items, mediaItem(300+i, "999", ""))
	}
	stats := runUploader(f, nil, items...)

	sent := f.Sent()
	if len(sent) != 3 {
		t.Fatalf("sent %d batches, want 3", len(sent))
	}
	for i, want := range []int{10, 10, 2} {
		if sent[i].Kind != "album" || len(sent[i].Album) != want {
			t.Errorf("send %d = %s with %d members, want album of %d", i, sent[i].Kind, len(sent[i].Album), want)
		}
	}
	if stats.Albums != 3 || stats.Singles != 0 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUploader_AlbumSwitchFlushes(t *testing.T) {
	f := &transporttest.Fake{SessionName: "s1"}
	runUploader(f, nil,
		mediaItem(1, "a", ""), mediaItem(2, "a", ""),
		mediaItem(3, "b", ""), mediaItem(4, "b", ""),
	)

	sent := f.Sent()
	if len(sent) != 2 || sent[0].Kind != "album" || sent[1].Kind != "album" {
		t.Fatalf("sent = %+v, want two albums", sent)
	}
	if sent[0].Album[0].FileName != "a-1.jpg" || sent[1].Album[0].FileName != "b-3.jpg" {
		t.Errorf("albums out of order: %q then %q", sent[0].Album[0].FileName, sent[1].Album[0].FileName)
	}
}

func TestUploader_NonMemberFlushesOpenAlbum(t *testing.T) {
	f := &transporttest.Fake{SessionName: "s1"}
	stats := runUploader(f, nil,
		mediaItem(1, "a", ""), mediaItem(2, "a", ""),
		textItem(3, "forwarded text"),
	)

	sent := f.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %+v, want album then text", sent)
	}
	if sent[0].Kind != "album" || len(sent[0].Album) != 2 {
		t.Errorf("first send = %+v, want the open album", sent[0])
	}
	if sent[1].Kind != "text" || sent[1].Text != "forwarded text" {
		t.Errorf("second send = %+v", sent[1])
	}
	if stats.Texts != 1 {
		t.Errorf("texts = %d, want 1", stats.Texts)
	}
}

func TestUploader_AlbumOfOneSentAsSingle(t *testing.T) {
	f := &transporttest.Fake{SessionName: "s1"}
	stats := runUploader(f, nil, mediaItem(5, "lonely", "cap"))

	sent := f.Sent()
	if len(sent) != 1 || sent[0].Kind != "single" {
		t.Fatalf("sent = %+v, want one single", sent)
	}
	if stats.Albums != 0 || stats.Singles != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUploader_PreserveAlbumsOff(t *testing.T) {
	f := &transporttest.Fake{SessionName: "s1"}
	stats := runUploader(f, func(o *UploaderOptions) { o.PreserveAlbums = false },
		mediaItem(1, "a", ""), mediaItem(2, "a", ""), mediaItem(3, "a", ""),
	)

	sent := f.Sent()
	if len(sent) != 3 {
		t.Fatalf("sent %d messages, want 3 singles", len(sent))
	}
	for i, s := range sent {
		if s.Kind != "single" {
			t.Errorf("send %d kind = %s, want single", i, s.Kind)
		}
	}
	if stats.Singles != 3 || stats.Albums != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUploader_SingleTransientRetriedOnce(t *testing.T) {
	f := &transporttest.Fake{SessionName: "s1"}
	fails := 0
	f.SendMediaFunc = func(ctx context.Context, target *transport.Channel, out *transport.Outgoing) error {
		if fails == 0 {
			fails++
			return &transport.TransientError{Err: errors.New("gateway timeout")}
		}
		return nil
	}
	stats := runUploader(f, nil, mediaItem(9, "", ""))

	if got := len(f.Sent()); got != 2 {
		t.Errorf("send attempts = %d, want 2", got)
	}
	if stats.Singles != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUploader_SingleGenericFailureNotRetried(t *testing.T) {
	f := &transporttest.Fake{SessionName: "s1"}
	f.SendMediaFunc = func(ctx context.Context, target *transport.Channel, out *transport.Outgoing) error {
		return errors.New("file part missing")
	}
	stats := runUploader(f, nil, mediaItem(9, "", ""))

	if got := len(f.Sent()); got != 1 {
		t.Errorf("send attempts = %d, want 1", got)
	}
	if stats.Failed != 1 || stats.Singles != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUploader_AlbumNeverRetried(t *testing.T) {
	f := &transporttest.Fake{SessionName: "s1"}
	f.SendAlbumFunc = func(ctx context.Context, target *transport.Channel, outs []*transport.Outgoing) error {
		return &transport.TransientError{Err: errors.New("gateway timeout")}
	}
	stats := runUploader(f, nil, mediaItem(1, "a", ""), mediaItem(2, "a", ""))

	if got := len(f.Sent()); got != 1 {
		t.Errorf("send attempts = %d, want exactly 1", got)
	}
	if stats.Failed != 2 || stats.Albums != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUploader_FloodWaitedOutAndRepeated(t *testing.T) {
	f := &transporttest.Fake{SessionName: "s1"}
	fails := 0
	f.SendMediaFunc = func(ctx context.Context, target *transport.Channel, out *transport.Outgoing) error {
		if fails == 0 {
			fails++
			return &transport.RateLimitedError{Wait: time.Millisecond}
		}
		return nil
	}
	stats := runUploader(f, nil, mediaItem(9, "", ""))

	if got := len(f.Sent()); got != 2 {
		t.Errorf("send attempts = %d, want 2", got)
	}
	// A flood wait is not a failure and not the one permitted retry.
	if stats.Singles != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUploader_DeleteAfterUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "888-1.jpg")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f := &transporttest.Fake{SessionName: "s1"}
	it := &FetchedItem{Desc: Descriptor{ID: 1, Kind: transport.KindPhoto}, Path: path, Session: "s1"}
	runUploader(f, func(o *UploaderOptions) { o.DeleteAfterUpload = true }, it)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("sent file should be deleted, stat err = %v", err)
	}
}

func TestUploader_FailedSendKeepsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "888-1.jpg")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f := &transporttest.Fake{SessionName: "s1"}
	f.SendMediaFunc = func(ctx context.Context, target *transport.Channel, out *transport.Outgoing) error {
		return errors.New("file part missing")
	}
	it := &FetchedItem{Desc: Descriptor{ID: 1, Kind: transport.KindPhoto}, Path: path, Session: "s1"}
	runUploader(f, func(o *UploaderOptions) { o.DeleteAfterUpload = true }, it)

	if _, err := os.Stat(path); err != nil {
		t.Errorf("failed send must keep the file: %v", err)
	}
}

func TestUploader_CaptionsOff(t *testing.T) {
	f := &transporttest.Fake{SessionName: "s1"}
	runUploader(f, func(o *UploaderOptions) { o.PreserveCaptions = false },
		mediaItem(9, "", "should not appear"))

	sent := f.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0].Item.Caption != "" {
		t.Errorf("caption = %q, want empty", sent[0].Item.Caption)
	}
}
