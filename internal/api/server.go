// Package api exposes listings, photos and device linking over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ppiankov/rentscout/internal/auth"
	"github.com/ppiankov/rentscout/internal/ingest"
	"github.com/ppiankov/rentscout/internal/listing"
	"github.com/ppiankov/rentscout/internal/telegram"
)

// Ingest is the listing side of the core.
type Ingest interface {
	FetchAndCache(ctx context.Context, req ingest.FetchRequest) (ingest.FetchResult, error)
	Listings(ctx context.Context, q ingest.ListQuery) ([]listing.Listing, error)
	Stats() listing.Stats
	Channels() []string
	ChannelInfo(ctx context.Context, channel string) (telegram.ChannelInfo, error)
}

// Photos resolves photo references.
type Photos interface {
	Get(ctx context.Context, messageID int, channel string) (string, error)
}

// Linker drives the device-link flow.
type Linker interface {
	IssueChallenge(ctx context.Context) (auth.Challenge, error)
	PollStatus(ctx context.Context) (auth.Status, error)
	QRCode() ([]byte, error)
}

type Options struct {
	Ingest Ingest
	Photos Photos
	Auth   Linker

	// DefaultChannels and DefaultDays fill fetch requests that omit them.
	DefaultChannels []string
	DefaultDays     int

	// AdminToken guards the auth routes when set.
	AdminToken  string
	CORSOrigins []string
	StaticDir   string
	Logger      *slog.Logger
}

type handlers struct {
	opts Options
	log  *slog.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultDays == 0 {
		opts.DefaultDays = ingest.DefaultDays
	}
	h := &handlers{opts: opts, log: opts.Logger.With("component", "api")}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(h.log), middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/fetch-messages", h.fetchMessages)
		r.Get("/messages", h.messages)
		r.Get("/photo/{message_id}", h.photo)
		r.Get("/stats", h.stats)
		r.Get("/current-channels", h.currentChannels)
		r.Get("/channel-info", h.channelInfo)

		r.Group(func(r chi.Router) {
			r.Use(requireToken(opts.AdminToken))
			r.Post("/auth/qr", h.issueQR)
			r.Get("/auth/status", h.authStatus)
			r.Get("/auth/qr.png", h.qrImage)
		})
	})

	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}
	return r
}

// NewServer wraps h with the listen address and conservative timeouts.
// Fetches can take long, so the write timeout is generous.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// requireToken checks a bearer token. An empty token disables the check.
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				respondError(w, http.StatusUnauthorized, "admin token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
