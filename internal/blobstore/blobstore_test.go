package blobstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/abusegal/telefeed/internal/logging"
	"github.com/abusegal/telefeed/internal/storage"
)

func newTestBucket(t *testing.T, name, publicBase string) *Bucket {
	t.Helper()
	logging.Init(false, false)
	store, err := storage.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	return New(store, name, publicBase)
}

func TestURL(t *testing.T) {
	cases := []struct {
		name, base, key, want string
	}{
		{"", "", "news/7.jpg", "/abu-segal-images/news/7.jpg"},
		{"pics", "", "news/7.jpg", "/pics/news/7.jpg"},
		{"pics", "https://cdn.example.com", "news/7.jpg", "https://cdn.example.com/pics/news/7.jpg"},
		{"pics", "https://cdn.example.com/", "news/7.jpg", "https://cdn.example.com/pics/news/7.jpg"},
	}
	for _, tc := range cases {
		b := newTestBucket(t, tc.name, tc.base)
		if got := b.URL(tc.key); got != tc.want {
			t.Fatalf("URL(%q) with name=%q base=%q = %q, want %q", tc.key, tc.name, tc.base, got, tc.want)
		}
	}
}

func TestPutGetDelete(t *testing.T) {
	b := newTestBucket(t, "", "")
	ctx := context.Background()

	url, err := b.Put(ctx, "news/7.jpg", "image/jpeg", []byte("payload"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if url != "/abu-segal-images/news/7.jpg" {
		t.Fatalf("url = %q", url)
	}

	obj, err := b.Get(ctx, "news/7.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if obj.ChannelID != "news" || obj.MIME != "image/jpeg" || string(obj.Data) != "payload" {
		t.Fatalf("object = %+v", obj)
	}

	if err := b.Delete(ctx, "news/7.jpg"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := b.Get(ctx, "news/7.jpg"); err == nil {
		t.Fatal("deleted object must not be found")
	}
}

func TestPutKeepsExistingObject(t *testing.T) {
	b := newTestBucket(t, "", "")
	ctx := context.Background()

	if _, err := b.Put(ctx, "news/7.jpg", "image/jpeg", []byte("first")); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := b.Put(ctx, "news/7.jpg", "image/jpeg", []byte("second")); err != nil {
		t.Fatalf("second put: %v", err)
	}
	obj, err := b.Get(ctx, "news/7.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(obj.Data) != "first" {
		t.Fatalf("data = %q, want the original bytes", obj.Data)
	}
}

func TestListByPrefix(t *testing.T) {
	b := newTestBucket(t, "", "")
	ctx := context.Background()

	seed := map[string]string{
		"news/1.jpg":  "a",
		"news/2.jpg":  "b",
		"other/1.jpg": "c",
	}
	for key, data := range seed {
		if _, err := b.Put(ctx, key, "image/jpeg", []byte(data)); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	objs, err := b.List(ctx, "news/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objs) != 2 {
		t.Fatalf("listed %d objects, want 2", len(objs))
	}
	for _, obj := range objs {
		if obj.ChannelID != "news" {
			t.Fatalf("listed %q from the wrong prefix", obj.Key)
		}
		// List is metadata only.
		if len(obj.Data) != 0 {
			t.Fatalf("list returned bytes for %q", obj.Key)
		}
	}
}
