package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm/clause"

	"github.com/abusegal/telefeed/internal/logging"
)

// Batch persistence limits. One store request never carries more than
// BatchCap items; conflicting writes are retried a fixed number of times.
const (
	BatchCap          = 500
	writeRetries      = 5
	writeRetryDelay   = 500 * time.Millisecond
	conflictBudgetErr = "write failed after retries"
)

// retrySleep is swappable in tests to avoid real waiting.
var retrySleep = time.Sleep

// WritePosts persists posts in chunks of at most BatchCap rows. Each chunk is
// one atomic insert; existing keys are left untouched (no update in place).
// A write-conflict error retries the chunk up to writeRetries times with a
// fixed delay before failing the whole call. Non-conflict errors propagate
// immediately. Returns the number of committed chunks.
func (s *Store) WritePosts(ctx context.Context, posts []Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	committed := 0
	for _, chunk := range chunkPosts(posts, BatchCap) {
		chunk := chunk
		commit := func() error {
			return s.DB.WithContext(ctx).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&chunk).Error
		}
		if err := commitWithRetry(ctx, commit); err != nil {
			return committed, fmt.Errorf("write posts (chunk %d, %d rows): %w", committed+1, len(chunk), err)
		}
		committed++
	}
	return committed, nil
}

// DeleteExpiredPosts removes all posts of the channel dated strictly before
// cutoff, in chunks of at most BatchCap keys. Returns the number of rows deleted.
func (s *Store) DeleteExpiredPosts(ctx context.Context, channelID string, cutoff time.Time) (int64, error) {
	var keys []string
	err := s.DB.WithContext(ctx).Model(&Post{}).
		Where("channel_id = ? AND date < ?", channelID, cutoff).
		Pluck("key", &keys).Error
	if err != nil {
		return 0, fmt.Errorf("query expired posts for %s: %w", channelID, err)
	}
	var deleted int64
	for _, chunk := range chunkStrings(keys, BatchCap) {
		res := s.DB.WithContext(ctx).Where("key IN ?", chunk).Delete(&Post{})
		if res.Error != nil {
			return deleted, fmt.Errorf("delete expired posts for %s: %w", channelID, res.Error)
		}
		deleted += res.RowsAffected
	}
	return deleted, nil
}

// DeleteExpiredMedia removes media objects under the channel prefix created
// strictly before cutoff. Object deletes are best-effort and individual: a
// failure on one object is logged and the pass continues.
func (s *Store) DeleteExpiredMedia(ctx context.Context, channelID string, cutoff time.Time) (int64, error) {
	var keys []string
	err := s.DB.WithContext(ctx).Model(&MediaObject{}).
		Where("channel_id = ? AND created_at < ?", channelID, cutoff).
		Pluck("key", &keys).Error
	if err != nil {
		return 0, fmt.Errorf("query expired media for %s: %w", channelID, err)
	}
	log := logging.L()
	var deleted int64
	for _, key := range keys {
		if err := s.DB.WithContext(ctx).Delete(&MediaObject{}, "key = ?", key).Error; err != nil {
			log.WithContext(ctx).WithField("blob_key", key).WithError(err).Warn("expiry: media delete failed")
			continue
		}
		deleted++
	}
	return deleted, nil
}

// commitWithRetry runs commit, retrying on write-conflict errors with a fixed
// delay. Conflict exhaustion and non-conflict errors both surface to the caller;
// only the former is retried.
func commitWithRetry(ctx context.Context, commit func() error) error {
	log := logging.L()
	var lastErr error
	for attempt := 0; attempt < writeRetries; attempt++ {
		err := commit()
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}
		lastErr = err
		log.WithContext(ctx).WithError(err).Warnf("write conflict, retrying... (attempt %d/%d)", attempt+1, writeRetries)
		retrySleep(writeRetryDelay)
	}
	return fmt.Errorf("%s: %w", conflictBudgetErr, lastErr)
}

// isConflict reports whether the error is a transient write conflict worth
// retrying: SQLite lock contention or Postgres serialization/deadlock failures.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"), // SQLITE_BUSY
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "sqlite_busy"),
		strings.Contains(msg, "sqlstate 40001"), // serialization_failure
		strings.Contains(msg, "sqlstate 40p01"), // deadlock_detected
		strings.Contains(msg, "could not serialize access"),
		strings.Contains(msg, "deadlock detected"):
		return true
	}
	return false
}

func chunkPosts(posts []Post, size int) [][]Post {
	if size <= 0 {
		size = BatchCap
	}
	var chunks [][]Post
	for start := 0; start < len(posts); start += size {
		end := start + size
		if end > len(posts) {
			end = len(posts)
		}
		chunks = append(chunks, posts[start:end])
	}
	return chunks
}

func chunkStrings(keys []string, size int) [][]string {
	if size <= 0 {
		size = BatchCap
	}
	var chunks [][]string
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}
