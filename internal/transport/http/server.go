package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sloghttp "github.com/samber/slog-http"

	feedService "tg-assistant/internal/modules/feed/service"
	"tg-assistant/internal/shared/config"
)

// Server exposes the stored digests over HTTP.
type Server struct {
	cfg         *config.Config
	feedService *feedService.Service
	logger      *slog.Logger
}

// New creates a new HTTP server.
func New(cfg *config.Config, feedService *feedService.Service) *Server {
	return &Server{
		cfg:         cfg,
		feedService: feedService,
		logger:      slog.Default(),
	}
}

// SetLogger sets the logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Start starts the HTTP server and blocks.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /feed", s.handleFeed)
	mux.HandleFunc("GET /health", s.handleHealth)

	addr := fmt.Sprintf(":%s", s.cfg.HTTPPort)
	s.logger.Info("Digest feed server starting", "addr", addr)

	handler := sloghttp.Recovery(mux)
	handler = sloghttp.New(s.logger)(handler)

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	baseURL := fmt.Sprintf("%s://%s", getScheme(r), r.Host)

	feed, err := s.feedService.GenerateFeed(baseURL)
	if err != nil {
		s.logger.Error("Error generating feed", "error", err)
		http.Error(w, "Failed to generate feed", http.StatusInternalServerError)
		return
	}

	rss, err := feed.ToRss()
	if err != nil {
		s.logger.Error("Error converting feed to RSS", "error", err)
		http.Error(w, "Failed to generate RSS", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(rss))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
