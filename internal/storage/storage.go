package storage

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/abusegal/telefeed/internal/logging"
)

// StringList is a JSON-serialized list of strings stored in a single text column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
}

// Post is one stored channel message. The pair (channel, message id) maps to
// exactly one row keyed "{channel_id}_{id}". Rows are created on first sync and
// never updated in place; they are deleted once Date falls before the cutoff.
type Post struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	CreatedAt time.Time `json:"created_at"`

	MsgID     string     `gorm:"index" json:"id"`
	ChannelID string     `gorm:"index" json:"channel_id"`
	Text      string     `json:"text"`
	Date      time.Time  `gorm:"index" json:"date"`
	Images    StringList `gorm:"type:text" json:"images"`

	// Optional attachments carried on older records; rendered as links.
	VideoURL string     `json:"video_url,omitempty"`
	Files    StringList `gorm:"type:text" json:"files,omitempty"`
}

// PostKey builds the document key for a channel message.
func PostKey(channelID, msgID string) string {
	return channelID + "_" + msgID
}

// MediaObject is one stored media blob, keyed "{channel}/{filename}".
// It is owned by the retention policy: deleted once CreatedAt precedes the
// cutoff. The only link back to a Post is the URL embedded in Post.Images.
type MediaObject struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	ChannelID string `gorm:"index" json:"channel_id"`
	MIME      string `json:"mime"`
	Data      []byte `json:"-"`
}

type Setting struct {
	Key       string `gorm:"primaryKey" json:"key"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Value string `json:"value"`
}

type Store struct {
	DB *gorm.DB
}

// Open initializes the database (SQLite or PostgreSQL based on DSN) and runs auto-migrations.
// If the provided string looks like a PostgreSQL DSN (starts with postgres:// or postgresql://,
// or contains key=val pairs like host=/user=/dbname=), Postgres driver will be used.
// Otherwise, it's treated as a SQLite path/DSN.
func Open(dsn string) (*Store, error) {
	log := logging.L()

	isPg := isPostgresDSN(dsn)
	var db *gorm.DB
	var err error
	if isPg {
		log.Infof("Opening PostgreSQL database...")
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logging.NewGormLogger(log, 100*time.Millisecond)})
	} else {
		log.Infof("Opening SQLite database (path: %s)...", dsn)
		// default to SQLite (supports file paths and memory dsn like file::memory:?cache=shared)
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logging.NewGormLogger(log, 100*time.Millisecond)})
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if !isPg {
		// SQLite works best with a single writer connection
		sqlDB.SetMaxOpenConns(1)
	}

	if err = db.AutoMigrate(
		&Post{},
		&MediaObject{},
		&Setting{},
	); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	log.Infof("Database auto-migration completed successfully")

	return &Store{DB: db}, nil
}

func isPostgresDSN(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://") {
		return true
	}
	// Key-value DSN commonly used by lib/pq/pgx: host=... user=... dbname=...
	if strings.Contains(s, "host=") || strings.Contains(s, "user=") || strings.Contains(s, "dbname=") {
		return true
	}
	return false
}

// NewRunID generates an identifier for one reconciliation pass.
func NewRunID() string {
	return uuid.New().String()
}

// ExistingPostIDs returns the set of message IDs already stored for the
// channel with Date strictly after since.
func (s *Store) ExistingPostIDs(ctx context.Context, channelID string, since time.Time) (map[string]struct{}, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&Post{}).
		Where("channel_id = ? AND date > ?", channelID, since).
		Pluck("msg_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("existing post ids for %s: %w", channelID, err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// PostsSince returns all posts across channels with Date strictly after since,
// newest first.
func (s *Store) PostsSince(ctx context.Context, since time.Time) ([]Post, error) {
	var posts []Post
	err := s.DB.WithContext(ctx).
		Where("date > ?", since).
		Order("date DESC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("posts since %s: %w", since.Format(time.RFC3339), err)
	}
	return posts, nil
}

// GetPost fetches a single post by document key.
func (s *Store) GetPost(ctx context.Context, key string) (*Post, error) {
	var p Post
	if err := s.DB.WithContext(ctx).First(&p, "key = ?", key).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// CountPosts returns the number of stored posts for a channel. Test/ops helper.
func (s *Store) CountPosts(ctx context.Context, channelID string) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&Post{}).Where("channel_id = ?", channelID).Count(&n).Error
	return n, err
}

func (s *Store) GetSetting(key string) (string, error) {
	var sett Setting
	if err := s.DB.First(&sett, "key = ?", key).Error; err != nil {
		return "", err
	}
	return sett.Value, nil
}

func (s *Store) SaveSetting(key, value string) error {
	return s.DB.Save(&Setting{Key: key, Value: value}).Error
}
