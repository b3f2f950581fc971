package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/NewsDesk/internal/collect"
	"github.com/TobiSchelling/NewsDesk/internal/database"
	"github.com/TobiSchelling/NewsDesk/internal/news"
	"github.com/TobiSchelling/NewsDesk/internal/pipeline"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Refresher starts a manual ingestion cycle.
type Refresher interface {
	TriggerNow(ctx context.Context) (*pipeline.Report, error)
}

// HealthChecker probes source feeds without ingesting them.
type HealthChecker interface {
	CheckHealth(ctx context.Context, sources []news.Source) []collect.SourceHealth
}

// Options are the optional collaborators of the dashboard.
type Options struct {
	Refresher Refresher
	Health    HealthChecker
	Metrics   http.Handler
	Log       *slog.Logger
}

// Server is the operator dashboard.
type Server struct {
	db    *database.DB
	opts  Options
	log   *slog.Logger
	pages map[string]*template.Template
	mux   *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB, opts Options) (*Server, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	funcMap := template.FuncMap{
		"markdown":   renderMarkdown,
		"formatTime": formatTime,
		"isUrgent":   func(tags []string) bool { return contains(tags, news.UrgentTag) },
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so "title" and "content" do not clash.
	pageNames := []string{"index.html", "article.html", "sources.html", "reports.html", "report.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, opts: opts, log: log, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /news/{id}", s.handleArticle)
	s.mux.HandleFunc("POST /news/{id}/view", s.handleView)
	s.mux.HandleFunc("GET /sources", s.handleSources)
	s.mux.HandleFunc("GET /reports", s.handleReports)
	s.mux.HandleFunc("GET /reports/{id}", s.handleReport)
	s.mux.HandleFunc("POST /refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", s.opts.Metrics)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := database.ListOptions{
		SourceID: q.Get("source"),
		Search:   strings.TrimSpace(q.Get("q")),
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = n
	}

	items, err := s.db.ListNews(opts)
	if err != nil {
		s.fail(w, "listing news", err)
		return
	}
	sources, _ := s.db.Sources()
	stats, _ := s.db.GetStats()
	latest, _ := s.db.LatestCycleReport()

	s.render(w, "index.html", map[string]any{
		"Items":   items,
		"Sources": sources,
		"Stats":   stats,
		"Latest":  latest,
		"Filter":  opts,
		"Notice":  q.Get("notice"),
	})
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.db.IncrementViews(id); err != nil {
		s.log.Warn("incrementing views failed", "id", id, "err", err)
	}
	item, err := s.db.GetNews(id)
	if err != nil {
		s.fail(w, "loading item", err)
		return
	}
	if item == nil {
		http.NotFound(w, r)
		return
	}
	s.render(w, "article.html", map[string]any{"Item": item})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := s.db.IncrementViews(id)
	if err != nil {
		s.fail(w, "incrementing views", err)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	item, err := s.db.GetNews(id)
	if err != nil {
		s.fail(w, "loading item", err)
		return
	}
	if item == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "views": item.Views})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.db.Sources()
	if err != nil {
		s.fail(w, "listing sources", err)
		return
	}

	var health []collect.SourceHealth
	if s.opts.Health != nil && r.URL.Query().Get("check") != "" {
		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()
		health = s.opts.Health.CheckHealth(ctx, sources)
	}

	s.render(w, "sources.html", map[string]any{
		"Sources": sources,
		"Health":  health,
		"Checked": health != nil,
	})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.db.ListCycleReports(100)
	if err != nil {
		s.fail(w, "listing reports", err)
		return
	}
	s.render(w, "reports.html", map[string]any{"Reports": reports})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.db.GetCycleReport(r.PathValue("id"))
	if err != nil {
		s.fail(w, "loading report", err)
		return
	}
	if report == nil {
		http.NotFound(w, r)
		return
	}
	s.render(w, "report.html", map[string]any{"Report": report})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.opts.Refresher == nil {
		http.Error(w, "refresh is not available", http.StatusServiceUnavailable)
		return
	}

	report, err := s.opts.Refresher.TriggerNow(r.Context())
	switch {
	case errors.Is(err, pipeline.ErrNoActiveSources):
		http.Redirect(w, r, "/?notice=no_sources", http.StatusSeeOther)
	case err != nil && report == nil:
		s.fail(w, "refresh", err)
	default:
		http.Redirect(w, r, "/reports/"+report.ID, http.StatusSeeOther)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"news":           stats.TotalNews,
		"active_sources": stats.ActiveSources,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Error("template not found", "template", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.log.Error("rendering template failed", "template", name, "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) fail(w http.ResponseWriter, what string, err error) {
	s.log.Error("request failed", "op", what, "err", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Serve listens on 127.0.0.1:port until ctx is done.
func Serve(ctx context.Context, srv *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	srv.log.Info("server listening", "url", "http://"+addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	}
}
