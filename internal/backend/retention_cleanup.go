package backend

import (
	"context"
	"time"

	"github.com/abusegal/telefeed/internal/monitoring"
)

// startRetentionCleanup launches a periodic expiry pass over posts and media,
// independent of sync traffic. Each pass re-evaluates the window cutoff.
func (s *Server) startRetentionCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	s.log.WithField("interval", interval.String()).Info("retention: starting cleanup worker")
	go func() {
		for {
			ctx := context.Background()
			cutoff := s.cfg.Window.Cutoff()
			var posts, media int64
			for _, ch := range s.cfg.Channels {
				n, err := s.store.DeleteExpiredPosts(ctx, ch, cutoff)
				if err != nil {
					s.log.WithField("channel", ch).WithError(err).Warn("retention: post cleanup failed")
				}
				posts += n
				m, err := s.store.DeleteExpiredMedia(ctx, ch, cutoff)
				if err != nil {
					s.log.WithField("channel", ch).WithError(err).Warn("retention: media cleanup failed")
				}
				media += m
			}
			monitoring.PostsExpiredTotal.Add(float64(posts))
			monitoring.MediaExpiredTotal.Add(float64(media))
			if posts > 0 || media > 0 {
				s.log.WithField("expired", posts).WithField("media_expired", media).Info("retention: cleanup pass done")
			}
			time.Sleep(interval)
		}
	}()
}
