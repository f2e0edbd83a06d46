package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chmw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/abusegal/telefeed/internal/blobstore"
	"github.com/abusegal/telefeed/internal/feed"
	"github.com/abusegal/telefeed/internal/logging"
	mcpsrv "github.com/abusegal/telefeed/internal/mcp"
	"github.com/abusegal/telefeed/internal/monitoring"
	"github.com/abusegal/telefeed/internal/retention"
	"github.com/abusegal/telefeed/internal/secrets"
	"github.com/abusegal/telefeed/internal/storage"
)

// SyncRunner performs one full reconciliation pass against the source.
// The HTTP layer only triggers it; wiring lives in the command.
type SyncRunner interface {
	Sync(ctx context.Context) error
}

type MonitoringConfig struct {
	MetricsEndpoint string
	HealthzEndpoint string
}

type Config struct {
	Store           *storage.Store
	Logger          *logrus.Logger
	Window          retention.Window
	Channels        []string
	Bucket          *blobstore.Bucket
	Feed            *feed.Renderer
	Secrets         secrets.Provider
	Sync            SyncRunner
	MCP             *mcpsrv.Server
	Version         string
	CORSAllowOrigin []string
	Monitoring      MonitoringConfig

	// DefaultLang selects feed labels when the request carries no
	// Accept-Language header.
	DefaultLang string

	SkipWorkers     bool
	CleanupInterval time.Duration
}

type Server struct {
	Router chi.Router
	store  *storage.Store
	log    *logrus.Logger
	cfg    Config
	bucket *blobstore.Bucket
	feed   *feed.Renderer
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		logging.Init(false, false)
		cfg.Logger = logging.L()
	}
	if cfg.Monitoring.MetricsEndpoint == "" {
		cfg.Monitoring.MetricsEndpoint = "/metrics"
	}
	if cfg.Monitoring.HealthzEndpoint == "" {
		cfg.Monitoring.HealthzEndpoint = "/healthz"
	}
	if cfg.DefaultLang == "" {
		cfg.DefaultLang = "he"
	}
	if cfg.Bucket == nil {
		cfg.Bucket = blobstore.New(cfg.Store, "", "")
	}
	if cfg.Feed == nil {
		cfg.Feed = feed.NewRenderer(cfg.Store, cfg.Window, cfg.Channels)
	}

	monitoring.Init()

	s := &Server{store: cfg.Store, log: cfg.Logger, cfg: cfg, bucket: cfg.Bucket, feed: cfg.Feed}
	r := chi.NewRouter()
	s.Router = r

	// Middlewares
	r.Use(chmw.RequestID)
	r.Use(chmw.RealIP)
	r.Use(chmw.Recoverer)
	r.Use(RequestLogger(cfg.Logger, cfg.Monitoring.HealthzEndpoint+"/alive", cfg.Monitoring.HealthzEndpoint+"/ready"))
	r.Use(SecurityHeaders())

	co := cors.Options{
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Content-Type"},
		MaxAge:         300,
	}
	if len(cfg.CORSAllowOrigin) == 0 {
		co.AllowOriginFunc = func(r *http.Request, origin string) bool {
			if origin == "" {
				return false
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return u.Host == r.Host
		}
	} else {
		co.AllowedOrigins = cfg.CORSAllowOrigin
	}
	r.Use(cors.Handler(co))

	// Feed
	r.Get("/", s.handleFeed)

	// Stored media. The canonical public path mirrors the bucket layout; the
	// /media alias is kept stable regardless of the configured bucket name.
	r.Get("/media/{channel}/{file}", s.handleMedia)
	r.Get("/"+s.bucket.Name()+"/{channel}/{file}", s.handleMedia)

	// Healthz
	r.Route(cfg.Monitoring.HealthzEndpoint, func(r chi.Router) {
		r.Get("/alive", s.handleAlive)
		r.Get("/ready", s.handleReady)
	})
	// Metrics
	r.Handle(cfg.Monitoring.MetricsEndpoint, monitoring.Handler())

	// MCP over SSE, next to the stdio transport of the mcp subcommand
	if cfg.MCP != nil {
		r.Handle("/mcp", cfg.MCP.HandleSSE())
	}

	// Start background workers
	if !cfg.SkipWorkers {
		s.startRetentionCleanup(cfg.CleanupInterval)
	}

	return s, nil
}

// handleFeed gates on the api_key query parameter, runs a reconciliation pass,
// and responds with the rendered feed page.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	want, err := s.cfg.Secrets.Get(ctx, secrets.InboundAPIKey)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Error("feed: api key lookup failed")
		http.Error(w, fmt.Sprintf("Error: %v", err), http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("api_key") != want {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("Unauthorized"))
		return
	}

	if s.cfg.Sync != nil {
		if err := s.cfg.Sync.Sync(ctx); err != nil {
			s.log.WithContext(ctx).WithError(err).Error("feed: sync pass failed")
			http.Error(w, fmt.Sprintf("Error: %v", err), http.StatusInternalServerError)
			return
		}
	}

	html, err := s.feed.Render(ctx, langFromRequest(r, s.cfg.DefaultLang))
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Error("feed: render failed")
		http.Error(w, fmt.Sprintf("Error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}

// handleMedia serves one stored object's bytes with its stored content type.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "channel") + "/" + chi.URLParam(r, "file")

	obj, err := s.bucket.Get(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.NotFound(w, r)
			return
		}
		s.log.WithContext(ctx).WithField("blob_key", key).WithError(err).Error("media: object fetch failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", obj.MIME)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(obj.Data)
}

func (s *Server) handleAlive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.store == nil || s.store.DB == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	// Simple ping via raw query
	if err := s.store.DB.WithContext(ctx).Exec("select 1").Error; err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
