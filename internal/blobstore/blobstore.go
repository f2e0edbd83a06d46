// Package blobstore exposes stored media as a flat bucket of objects keyed
// "{channel}/{filename}", with deterministic public URLs derived from the
// bucket name and key.
package blobstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm/clause"

	"github.com/abusegal/telefeed/internal/logging"
	"github.com/abusegal/telefeed/internal/storage"
)

// DefaultBucket is the bucket name used when none is configured.
const DefaultBucket = "abu-segal-images"

type Bucket struct {
	store *storage.Store
	name  string
	// publicBase is the URL prefix in front of "{bucket}/{key}". Empty means
	// relative URLs served by this process.
	publicBase string
}

func New(store *storage.Store, name, publicBase string) *Bucket {
	if name == "" {
		name = DefaultBucket
	}
	return &Bucket{
		store:      store,
		name:       name,
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// URL returns the public URL for an object key.
func (b *Bucket) URL(key string) string {
	return fmt.Sprintf("%s/%s/%s", b.publicBase, b.name, key)
}

// Put stores object bytes under key and returns the public URL. The channel
// component is the key prefix up to the first slash. An existing object under
// the same key is left as is.
func (b *Bucket) Put(ctx context.Context, key, mime string, data []byte) (string, error) {
	channel := key
	if i := strings.IndexByte(key, '/'); i >= 0 {
		channel = key[:i]
	}
	obj := storage.MediaObject{
		Key:       key,
		CreatedAt: time.Now(),
		ChannelID: channel,
		MIME:      mime,
		Data:      data,
	}
	err := b.store.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&obj).Error
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	logging.L().WithContext(ctx).WithFields(map[string]any{
		"blob_key": key,
		"mime":     mime,
		"size":     len(data),
	}).Debug("blobstore: stored object")
	return b.URL(key), nil
}

// Get fetches one object including its bytes.
func (b *Bucket) Get(ctx context.Context, key string) (*storage.MediaObject, error) {
	var obj storage.MediaObject
	if err := b.store.DB.WithContext(ctx).First(&obj, "key = ?", key).Error; err != nil {
		return nil, err
	}
	return &obj, nil
}

// List returns object metadata (no bytes) under the given key prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]storage.MediaObject, error) {
	var objs []storage.MediaObject
	err := b.store.DB.WithContext(ctx).Model(&storage.MediaObject{}).
		Select("key", "created_at", "channel_id", "mime").
		Where("key LIKE ?", prefix+"%").
		Order("key").
		Find(&objs).Error
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return objs, nil
}

// Delete removes one object by key.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	return b.store.DB.WithContext(ctx).Delete(&storage.MediaObject{}, "key = ?", key).Error
}
