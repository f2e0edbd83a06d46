// Package syncer reconciles the store's view of each channel's recent posts
// against the source feed, under the rolling retention window.
package syncer

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abusegal/telefeed/internal/logging"
	"github.com/abusegal/telefeed/internal/monitoring"
	"github.com/abusegal/telefeed/internal/retention"
	"github.com/abusegal/telefeed/internal/source"
	"github.com/abusegal/telefeed/internal/storage"
)

const (
	// historyPage is how many messages one history request asks for.
	historyPage = 100
	// groupNeighborhood bounds the album scan: members of a grouped message
	// are gathered from the 9 preceding message ids.
	groupNeighborhood = 9
)

// lastRunSetting records when a full reconciliation pass last completed.
const lastRunSetting = "sync.last_run"

// Extractor stores a cluster's images and returns their public URLs.
type Extractor interface {
	Extract(ctx context.Context, channel string, cluster []source.Message) []string
}

type Reconciler struct {
	store  *storage.Store
	window retention.Window
	log    *logrus.Logger
}

func New(store *storage.Store, window retention.Window) *Reconciler {
	return &Reconciler{store: store, window: window, log: logging.L()}
}

// ChannelResult reports one channel's pass. Results are collected per channel
// so a failure in one cannot mask or cancel the others.
type ChannelResult struct {
	Channel      string
	Stored       int
	Skipped      int
	Expired      int64
	MediaExpired int64
	Err          error
}

// Run reconciles every channel concurrently against the given source client.
func (r *Reconciler) Run(ctx context.Context, client source.Client, ext Extractor, channels []string) []ChannelResult {
	ctx = context.WithValue(ctx, logging.ContextRunID, storage.NewRunID())
	results := make([]ChannelResult, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch string) {
			defer wg.Done()
			results[i] = r.SyncChannel(ctx, client, ext, ch)
		}(i, ch)
	}
	wg.Wait()
	if err := r.store.SaveSetting(lastRunSetting, time.Now().UTC().Format(time.RFC3339)); err != nil {
		r.log.WithContext(ctx).WithError(err).Warn("sync: last-run bookkeeping failed")
	}
	return results
}

// SyncChannel brings the store in line with one channel: collect new posts,
// commit them in batches, then run the post and media expiry passes.
func (r *Reconciler) SyncChannel(ctx context.Context, client source.Client, ext Extractor, channel string) ChannelResult {
	ctx = context.WithValue(ctx, logging.ContextChannel, channel)
	res := ChannelResult{Channel: channel}
	entry := r.log.WithContext(ctx)
	start := time.Now()

	peer, err := client.Resolve(ctx, channel)
	if err != nil {
		// Resolution failure leaves the channel unsynced this cycle.
		entry.WithError(err).Error("sync: channel resolution failed")
		monitoring.ChannelFailuresTotal.WithLabelValues(channel).Inc()
		res.Err = fmt.Errorf("resolve channel %s: %w", channel, err)
		return res
	}

	cutoff := r.window.Cutoff()
	existing, err := r.store.ExistingPostIDs(ctx, channel, cutoff)
	if err != nil {
		monitoring.ChannelFailuresTotal.WithLabelValues(channel).Inc()
		res.Err = err
		return res
	}

	posts, skipped, err := r.collect(ctx, client, ext, channel, peer, cutoff, existing)
	res.Skipped = skipped
	if err != nil {
		monitoring.ChannelFailuresTotal.WithLabelValues(channel).Inc()
		res.Err = err
		return res
	}

	batches, err := r.store.WritePosts(ctx, posts)
	monitoring.BatchCommitsTotal.Add(float64(batches))
	if err != nil {
		monitoring.ChannelFailuresTotal.WithLabelValues(channel).Inc()
		res.Err = err
		return res
	}
	res.Stored = len(posts)
	monitoring.PostsStoredTotal.WithLabelValues(channel).Add(float64(len(posts)))
	monitoring.PostsSkippedTotal.WithLabelValues(channel).Add(float64(skipped))

	// Expiry passes re-evaluate the cutoff; a long collect phase shifts it
	// slightly forward, which is accepted drift.
	expired, err := r.store.DeleteExpiredPosts(ctx, channel, r.window.Cutoff())
	res.Expired = expired
	monitoring.PostsExpiredTotal.Add(float64(expired))
	if err != nil {
		entry.WithError(err).Error("sync: post expiry failed")
		res.Err = err
		return res
	}

	mediaExpired, err := r.store.DeleteExpiredMedia(ctx, channel, r.window.Cutoff())
	res.MediaExpired = mediaExpired
	monitoring.MediaExpiredTotal.Add(float64(mediaExpired))
	if err != nil {
		entry.WithError(err).Error("sync: media expiry failed")
		res.Err = err
		return res
	}

	entry.WithFields(logrus.Fields{
		"stored":      res.Stored,
		"skipped":     res.Skipped,
		"expired":     res.Expired,
		"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
	}).Info("sync: channel reconciled")
	return res
}

// collect scans the channel newest-first, stopping at the first message dated
// before the cutoff, and accumulates normalized posts for a single batched
// commit. Nothing is written here.
func (r *Reconciler) collect(ctx context.Context, client source.Client, ext Extractor, channel string, peer source.Peer, cutoff time.Time, existing map[string]struct{}) ([]storage.Post, int, error) {
	var posts []storage.Post
	skipped := 0
	offsetID := 0
	seenGroups := make(map[int64]struct{})

scan:
	for {
		page, err := client.History(ctx, peer, offsetID, historyPage)
		if err != nil {
			return nil, skipped, fmt.Errorf("history for %s: %w", channel, err)
		}
		if len(page) == 0 {
			break
		}
		for _, msg := range page {
			offsetID = msg.ID
			if msg.Date.Before(cutoff) {
				// The source is time-ordered descending; nothing older matters.
				break scan
			}
			if msg.GroupedID != 0 {
				if _, done := seenGroups[msg.GroupedID]; done {
					// Another member already owns the cluster's post.
					continue
				}
				// Mark the group on its newest member even when that member
				// is already stored, so a later sibling cannot re-emit the
				// cluster under its own id.
				seenGroups[msg.GroupedID] = struct{}{}
			}
			msgID := strconv.Itoa(msg.ID)
			if _, ok := existing[msgID]; ok {
				skipped++
				continue
			}
			cluster := []source.Message{msg}
			if msg.GroupedID != 0 {
				cluster, err = r.gatherCluster(ctx, client, peer, msg)
				if err != nil {
					return nil, skipped, err
				}
			}
			images := ext.Extract(ctx, channel, cluster)
			posts = append(posts, normalizePost(channel, msg, cluster, images, r.window.Location))
		}
	}
	return posts, skipped, nil
}

// gatherCluster fetches the grouped message's neighborhood (itself plus the 9
// preceding ids) and keeps members sharing its group id, ascending by id.
func (r *Reconciler) gatherCluster(ctx context.Context, client source.Client, peer source.Peer, msg source.Message) ([]source.Message, error) {
	page, err := client.History(ctx, peer, msg.ID+1, groupNeighborhood+1)
	if err != nil {
		return nil, fmt.Errorf("gather cluster for message %d: %w", msg.ID, err)
	}
	var cluster []source.Message
	for _, m := range page {
		if m.GroupedID == msg.GroupedID {
			cluster = append(cluster, m)
		}
	}
	if len(cluster) == 0 {
		cluster = []source.Message{msg}
	}
	sort.Slice(cluster, func(i, j int) bool { return cluster[i].ID < cluster[j].ID })
	return cluster, nil
}

// normalizePost maps a message (or its cluster) onto the canonical Post
// record. The triggering message's id and date key the record; when it has no
// text the first non-empty text in the cluster is used.
func normalizePost(channel string, msg source.Message, cluster []source.Message, images []string, loc *time.Location) storage.Post {
	text := msg.Text
	if text == "" {
		for _, m := range cluster {
			if m.Text != "" {
				text = m.Text
				break
			}
		}
	}
	msgID := strconv.Itoa(msg.ID)
	return storage.Post{
		Key:       storage.PostKey(channel, msgID),
		MsgID:     msgID,
		ChannelID: channel,
		Text:      text,
		Date:      msg.Date.In(loc),
		Images:    images,
	}
}
