// Package secrets resolves credentials from an external store at request
// time. Values are intentionally not cached between requests.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/abusegal/telefeed/internal/logging"
)

// Well-known secret names.
const (
	TelegramAPIID   = "TELEGRAM_API_ID"
	TelegramAPIHash = "TELEGRAM_API_HASH"
	TelegramSession = "TELEGRAM_STRING_SESSION"
	InboundAPIKey   = "API_KEY"
)

// Provider fetches one named secret.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
	Close() error
}

// ---- Environment implementation ----

type envProvider struct{}

// NewEnvProvider reads secrets from process environment variables.
func NewEnvProvider() Provider {
	logging.L().WithField("impl", "env").Info("secrets: initialized")
	return envProvider{}
}

func (envProvider) Get(_ context.Context, name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("secret %s not set", name)
	}
	return v, nil
}

func (envProvider) Close() error { return nil }

// ---- Redis implementation ----

type redisProvider struct {
	client *redis.Client
	prefix string
}

// NewRedisProvider creates a Redis-backed provider using go-redis. Secrets
// are plain string values under "{prefix}{name}".
func NewRedisProvider(addr, password, prefix string) Provider {
	if prefix == "" {
		prefix = "telefeed:secrets:"
	} else if !strings.HasSuffix(prefix, ":") {
		prefix = prefix + ":"
	}
	logging.L().WithFields(map[string]any{"impl": "redis", "addr": addr, "prefix": prefix}).Info("secrets: initializing redis provider")
	opts := &redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              0,
		MaxRetries:      3,
		MinRetryBackoff: 50 * time.Millisecond,
		MaxRetryBackoff: 250 * time.Millisecond,
		DialTimeout:     1 * time.Second,
		ReadTimeout:     1 * time.Second,
		WriteTimeout:    1 * time.Second,
	}
	cl := redis.NewClient(opts)
	// Best-effort ping
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cl.Ping(ctx).Err(); err != nil {
		logging.L().WithFields(map[string]any{"impl": "redis", "addr": addr}).WithError(err).Info("secrets: redis ping failed (will retry on demand)")
	}
	return &redisProvider{client: cl, prefix: prefix}
}

func (r *redisProvider) Get(ctx context.Context, name string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		v, err := r.client.Get(cctx, r.prefix+name).Result()
		cancel()
		if err == nil {
			return v, nil
		}
		if err == redis.Nil {
			return "", fmt.Errorf("secret %s not found", name)
		}
		lastErr = err
		if attempt < 2 {
			pctx, pcancel := context.WithTimeout(ctx, 500*time.Millisecond)
			_ = r.client.Ping(pctx).Err()
			pcancel()
			time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
		}
	}
	return "", fmt.Errorf("secret %s: %w", name, lastErr)
}

func (r *redisProvider) Close() error { return r.client.Close() }
