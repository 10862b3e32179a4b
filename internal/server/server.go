// Package server assembles the storage adapter, metadata store, ledger,
// search index and event hub into the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mirrorsplit/internal/config"
	"mirrorsplit/internal/database"
	"mirrorsplit/internal/domain/upload"
	"mirrorsplit/internal/ledger"
	"mirrorsplit/internal/metrics"
	"mirrorsplit/internal/middleware"
	"mirrorsplit/internal/pkg/retry"
	"mirrorsplit/internal/realtime"
	"mirrorsplit/internal/search"
	"mirrorsplit/internal/storage"
)

const eventsPath = "/uploads/events"

type Server struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	store   storage.Storage
	ledger  *ledger.Ledger
	index   *search.Index
	hub     *realtime.Hub
	service *upload.Service
	router  *gin.Engine
}

// New constructs every component from cfg. Callers must Close the server.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, log: log}

	store, err := newStorage(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	s.store = store

	s.ledger, err = ledger.New(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}

	var repo upload.Repository
	if cfg.HasDatabase() {
		s.db, err = database.Connect(cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		if err := upload.Migrate(s.db); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		repo = upload.NewRepository(s.db)
	} else {
		log.Warn("DATABASE_URL not set, running in local-only mode", zap.String("ledger", cfg.LedgerPath))
	}

	s.hub = realtime.NewHub(log.Named("events"))

	policy := upload.NewPolicy(cfg.MaxUploadSize, cfg.AllowedMimeTypes, cfg.Sections)
	policy.StrictSections = cfg.StrictSections
	opts := []upload.Option{
		upload.WithPolicy(policy),
		upload.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.RetryAttempts,
			Backoff:     retry.Exponential(cfg.RetryBaseDelay),
		}),
		upload.WithPublisher(s.hub),
	}
	s.index, err = search.Open(cfg.SearchIndexPath)
	if err != nil {
		log.Warn("search index unavailable", zap.String("path", cfg.SearchIndexPath), zap.Error(err))
		s.index = nil
	} else {
		opts = append(opts, upload.WithSearchIndex(s.index))
	}

	s.service = upload.NewService(repo, store, s.ledger, log.Named("upload"), opts...)

	if s.index != nil && cfg.SearchIndexPath == "" {
		n, err := s.service.Reindex(ctx)
		if err != nil {
			log.Warn("initial search index build failed", zap.Error(err))
		} else {
			log.Info("search index built", zap.Int("records", n))
		}
	}

	s.router = s.routes()
	return s, nil
}

func newStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.BackendS3:
		return storage.NewS3(ctx, storage.S3Options{
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			UseSSL:        cfg.S3UseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
			SignedURLs:    cfg.S3SignedURLs,
			SignedURLTTL:  cfg.S3SignedURLTTL,
		}, log.Named("s3"))
	case config.BackendLocal, "":
		return storage.NewLocal(cfg.UploadsDir, cfg.FilesURLPrefix)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.ErrorLogger(s.log),
		middleware.RequestLogger(s.log),
		middleware.CORS(s.cfg.CORSAllowedOrigins),
	)

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	if local, ok := s.store.(*storage.Local); ok {
		r.Static(s.cfg.FilesURLPrefix, local.Root())
	}

	h := upload.NewHandler(s.service)
	upload.RegisterRoutes(r, h, middleware.AdminToken(s.cfg.AdminToken, s.log))
	r.GET(eventsPath, s.hub.Handle)
	return r
}

// Handler gzips responses except on the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	gz := gzhttp.GzipHandler(s.router)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == eventsPath {
			s.router.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

func (s *Server) Service() *upload.Service { return s.service }

// ErrEphemeralIndex means no SEARCH_INDEX_PATH is configured, so a rebuild
// would only fill an in-memory index that is discarded on exit.
var ErrEphemeralIndex = errors.New("SEARCH_INDEX_PATH is not set: the search index is in-memory and rebuilt by the API at startup")

// Reindex rebuilds the on-disk search index from the current records.
func (s *Server) Reindex(ctx context.Context) (int, error) {
	if s.cfg.SearchIndexPath == "" {
		return 0, ErrEphemeralIndex
	}
	if s.index == nil {
		return 0, fmt.Errorf("search index %s could not be opened (is the API holding it?)", s.cfg.SearchIndexPath)
	}
	return s.service.Reindex(ctx)
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"storage":  s.store.Backend(),
		"database": "disabled",
		"ledger":   s.ledger.Path(),
		"search":   "disabled",
	}

	if s.db != nil {
		body["database"] = "ok"
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			body["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if s.index != nil {
		body["search"] = "ok"
	}
	c.JSON(status, body)
}

// Close releases the hub, index and database.
func (s *Server) Close() error {
	var errs []error
	if s.hub != nil {
		s.hub.Close()
	}
	if s.index != nil {
		errs = append(errs, s.index.Close())
	}
	if s.db != nil {
		errs = append(errs, database.Close(s.db))
	}
	return errors.Join(errs...)
}
