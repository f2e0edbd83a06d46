package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/abusegal/telefeed/internal/blobstore"
	"github.com/abusegal/telefeed/internal/logging"
	"github.com/abusegal/telefeed/internal/source"
	"github.com/abusegal/telefeed/internal/storage"
)

type fakeDownloader struct {
	data map[int][]byte
	errs map[int]error
}

func (f *fakeDownloader) Download(ctx context.Context, msg source.Message) ([]byte, error) {
	if err := f.errs[msg.ID]; err != nil {
		return nil, err
	}
	return f.data[msg.ID], nil
}

func newTestBucket(t *testing.T) *blobstore.Bucket {
	t.Helper()
	logging.Init(false, false)
	store, err := storage.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	return blobstore.New(store, "", "")
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func photoMsg(id int) source.Message {
	return source.Message{
		ID:    id,
		Date:  time.Now(),
		Media: &source.Media{Kind: source.KindPhoto, MIME: "image/jpeg"},
	}
}

func TestExtractPhotoKeyAndMIME(t *testing.T) {
	bucket := newTestBucket(t)
	dl := &fakeDownloader{data: map[int][]byte{7: testJPEG(t, 10, 10)}}
	ext := NewExtractor(dl, bucket)

	urls := ext.Extract(context.Background(), "news", []source.Message{photoMsg(7)})
	if len(urls) != 1 {
		t.Fatalf("urls = %v, want one", urls)
	}
	if urls[0] != "/abu-segal-images/news/7.jpg" {
		t.Fatalf("url = %q", urls[0])
	}

	obj, err := bucket.Get(context.Background(), "news/7.jpg")
	if err != nil {
		t.Fatalf("stored object: %v", err)
	}
	if obj.MIME != "image/jpeg" {
		t.Fatalf("mime = %q, want image/jpeg", obj.MIME)
	}
	if obj.ChannelID != "news" {
		t.Fatalf("channel = %q, want news", obj.ChannelID)
	}
}

func TestExtractImageDocumentKeepsFilename(t *testing.T) {
	bucket := newTestBucket(t)
	dl := &fakeDownloader{data: map[int][]byte{3: testJPEG(t, 10, 10), 4: testJPEG(t, 10, 10)}}
	ext := NewExtractor(dl, bucket)

	named := source.Message{
		ID:    3,
		Media: &source.Media{Kind: source.KindImageDocument, MIME: "image/png", Filename: "chart.png"},
	}
	unnamed := source.Message{
		ID:    4,
		Media: &source.Media{Kind: source.KindImageDocument, MIME: "image/jpeg"},
	}

	urls := ext.Extract(context.Background(), "news", []source.Message{named, unnamed})
	if len(urls) != 2 {
		t.Fatalf("urls = %v, want two", urls)
	}
	if urls[0] != "/abu-segal-images/news/chart.png" {
		t.Fatalf("named url = %q", urls[0])
	}
	if urls[1] != "/abu-segal-images/news/4.jpg" {
		t.Fatalf("fallback url = %q", urls[1])
	}

	obj, err := bucket.Get(context.Background(), "news/chart.png")
	if err != nil {
		t.Fatalf("stored object: %v", err)
	}
	if obj.MIME != "image/png" {
		t.Fatalf("mime = %q, want the document mime", obj.MIME)
	}
}

func TestExtractSkipsNonImages(t *testing.T) {
	bucket := newTestBucket(t)
	ext := NewExtractor(&fakeDownloader{}, bucket)

	cluster := []source.Message{
		{ID: 1, Media: &source.Media{Kind: source.KindOtherDocument, MIME: "application/pdf", Filename: "doc.pdf"}},
		{ID: 2, Media: &source.Media{Kind: source.KindUnsupported}},
		{ID: 3}, // no media at all
	}
	urls := ext.Extract(context.Background(), "news", cluster)
	if len(urls) != 0 {
		t.Fatalf("urls = %v, want none", urls)
	}
	if objs, _ := bucket.List(context.Background(), "news/"); len(objs) != 0 {
		t.Fatalf("objects = %v, want none", objs)
	}
}

func TestExtractIsolatesFailures(t *testing.T) {
	bucket := newTestBucket(t)
	dl := &fakeDownloader{
		data: map[int][]byte{2: testJPEG(t, 10, 10)},
		errs: map[int]error{1: errors.New("file reference expired")},
	}
	ext := NewExtractor(dl, bucket)

	urls := ext.Extract(context.Background(), "news", []source.Message{photoMsg(1), photoMsg(2)})
	if len(urls) != 1 {
		t.Fatalf("urls = %v, want the surviving item only", urls)
	}
	if urls[0] != "/abu-segal-images/news/2.jpg" {
		t.Fatalf("url = %q", urls[0])
	}
}

func TestDownscaleKeepsSmallImages(t *testing.T) {
	small := testJPEG(t, 32, 32)
	got := downscale(small, "image/jpeg")
	if !bytes.Equal(got, small) {
		t.Fatal("images under the size limit must pass through untouched")
	}
}

func TestDownscaleShrinksLargeImages(t *testing.T) {
	big := testJPEG(t, 2000, 1000)
	got := downscale(big, "image/jpeg")

	cfg, _, err := image.DecodeConfig(bytes.NewReader(got))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if cfg.Width > 1280 || cfg.Height > 1280 {
		t.Fatalf("result %dx%d exceeds the bound", cfg.Width, cfg.Height)
	}
	// Aspect ratio preserved (2:1).
	if cfg.Width != 1280 || cfg.Height != 640 {
		t.Fatalf("result %dx%d, want 1280x640", cfg.Width, cfg.Height)
	}
}

func TestDownscaleUnknownBytesPassThrough(t *testing.T) {
	junk := []byte("not an image")
	if got := downscale(junk, "image/jpeg"); !bytes.Equal(got, junk) {
		t.Fatal("undecodable payloads must pass through untouched")
	}
}
