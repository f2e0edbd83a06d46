// Package media turns source attachments into stored, publicly addressable
// images. Extraction is best-effort: one failing item never fails the post.
package media

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/abusegal/telefeed/internal/blobstore"
	"github.com/abusegal/telefeed/internal/logging"
	"github.com/abusegal/telefeed/internal/monitoring"
	"github.com/abusegal/telefeed/internal/source"
)

// Downloader fetches attachment bytes for one message.
type Downloader interface {
	Download(ctx context.Context, msg source.Message) ([]byte, error)
}

type Extractor struct {
	dl     Downloader
	bucket *blobstore.Bucket
	log    *logrus.Logger
}

func NewExtractor(dl Downloader, bucket *blobstore.Bucket) *Extractor {
	return &Extractor{dl: dl, bucket: bucket, log: logging.L()}
}

// Extract walks the cluster in order and returns the public URLs of every
// image it managed to store. Non-image and unsupported media are skipped with
// a log line; download/upload failures are logged and the item is omitted.
func (e *Extractor) Extract(ctx context.Context, channel string, cluster []source.Message) []string {
	var urls []string
	for _, msg := range cluster {
		if msg.Media == nil {
			continue
		}
		entry := e.log.WithContext(ctx).WithFields(logrus.Fields{
			"channel":    channel,
			"message_id": msg.ID,
			"kind":       msg.Media.Kind.String(),
		})
		switch msg.Media.Kind {
		case source.KindPhoto:
			url, err := e.store(ctx, channel, msg, photoKey(channel, msg.ID), "image/jpeg")
			if err != nil {
				entry.WithError(err).Error("media: photo processing failed")
				continue
			}
			entry.WithField("url", url).Debug("media: photo stored")
			urls = append(urls, url)
		case source.KindImageDocument:
			url, err := e.store(ctx, channel, msg, documentKey(channel, msg), msg.Media.MIME)
			if err != nil {
				entry.WithError(err).Error("media: image document processing failed")
				continue
			}
			entry.WithField("url", url).Debug("media: image document stored")
			urls = append(urls, url)
		case source.KindOtherDocument:
			entry.Info("media: non-image document, skipping")
		default:
			entry.Info("media: unsupported media type, skipping")
		}
	}
	return urls
}

func (e *Extractor) store(ctx context.Context, channel string, msg source.Message, key, mime string) (string, error) {
	data, err := e.dl.Download(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	data = downscale(data, mime)
	url, err := e.bucket.Put(ctx, key, mime, data)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	monitoring.MediaUploadedTotal.Inc()
	return url, nil
}

func photoKey(channel string, msgID int) string {
	return fmt.Sprintf("%s/%d.jpg", channel, msgID)
}

// documentKey keeps the original filename when the document carries one,
// otherwise falls back to "{id}.jpg".
func documentKey(channel string, msg source.Message) string {
	name := msg.Media.Filename
	if name == "" {
		name = fmt.Sprintf("%d.jpg", msg.ID)
	}
	return fmt.Sprintf("%s/%s", channel, name)
}
