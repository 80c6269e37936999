// Package shell serves the category pages: it maps paths to categories, keeps one progress
// signal per browser session and one feed controller per session and category, and exposes the
// "load more", progress and reader endpoints the pages call.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/0x0BSoD/newsMonkey/internal/feed"
	"github.com/0x0BSoD/newsMonkey/internal/model"
	"github.com/0x0BSoD/newsMonkey/internal/reader"
	"github.com/0x0BSoD/newsMonkey/internal/render"
)

const (
	headerHasMore   = "X-Has-More"
	headerFeedError = "X-Feed-Error"

	shutdownTimeout = 5 * time.Second
)

type ArticleReader interface {
	Read(ctx context.Context, rawURL string) (reader.View, error)
}

type Options struct {
	Addr                string
	AppName             string
	Feed                feed.Options
	ClientRPS           float64
	ClientBurst         int
	TrustProxy          bool
	SessionTTL          time.Duration
	ProgressFinishDelay time.Duration
}

type Server struct {
	opts     Options
	fetcher  feed.Fetcher
	reporter feed.Reporter
	reader   ArticleReader
	renderer *render.Renderer
	sessions *Sessions
	limiter  *RateLimiter
	logger   *slog.Logger
}

func New(
	opts Options,
	fetcher feed.Fetcher,
	reporter feed.Reporter,
	articleReader ArticleReader,
	renderer *render.Renderer,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:     opts,
		fetcher:  fetcher,
		reporter: reporter,
		reader:   articleReader,
		renderer: renderer,
		sessions: NewSessions(opts.SessionTTL, opts.ProgressFinishDelay),
		limiter:  NewRateLimiter(opts.ClientRPS, opts.ClientBurst, opts.TrustProxy, logger),
		logger:   logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	for _, route := range Routes {
		pattern := route.Path
		if pattern == "/" {
			pattern = "/{$}"
		}
		mux.HandleFunc("GET "+pattern, s.handlePage(route))
		mux.HandleFunc("GET "+route.MorePath(), s.handleMore(route))
	}
	mux.HandleFunc("GET /progress", s.handleProgress)
	mux.HandleFunc("GET /read", s.handleRead)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return s.limiter.Middleware(s.logRequests(mux))
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts the server down gracefully. Requests
// inherit ctx, so open progress streams end with it.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.sessions.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("session sweeper stopped", "err", err)
		}
	}()
	go func() {
		if err := s.limiter.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("rate limiter cleanup stopped", "err", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return ctx.Err()
}

func (s *Server) newFeed(category model.Category, progress feed.Progress) *feed.Controller {
	return feed.New(category, s.fetcher, progress, s.reporter, s.opts.Feed)
}

// handlePage opens a fresh feed for the route and renders the page shell. The page asks for the
// first batch through the route's "more" path once it listens for progress.
func (s *Server) handlePage(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := s.sessions.Get(w, r)
		sess.Open(route.Category, s.newFeed)

		page := render.Page{
			AppName:  s.opts.AppName,
			Category: route.Category,
			Nav:      navItems(route.Category),
			Loading:  true,
			HasMore:  true,
			Progress: sess.Progress.Value(),
			MorePath: route.MorePath(),
		}

		var buf bytes.Buffer
		if err := s.renderer.Page(&buf, page); err != nil {
			s.logger.Error("failed to render page", "category", route.Category, "err", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = buf.WriteTo(w)
	}
}

func (s *Server) handleMore(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := s.sessions.Get(w, r)

		ctrl := sess.Feed(route.Category)
		if ctrl == nil {
			w.Header().Set(headerHasMore, "false")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		res, err := ctrl.Next(r.Context())
		w.Header().Set(headerHasMore, strconv.FormatBool(ctrl.HasMore()))
		if err != nil {
			w.Header().Set(headerFeedError, feed.FailureNotice)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !res.Issued || len(res.Added) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		var buf bytes.Buffer
		if err := s.renderer.Cards(&buf, render.NewCards(res.Added)); err != nil {
			s.logger.Error("failed to render cards", "category", route.Category, "err", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = buf.WriteTo(w)
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Get(w, r)

	updates := sess.Progress.Subscribe(r.Context())

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for pct := range updates {
		if _, err := fmt.Fprintf(w, "data: %d\n\n", pct); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		http.NotFound(w, r)
		return
	}

	rawURL := r.URL.Query().Get("url")
	if !s.sessions.Get(w, r).HasArticle(rawURL) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	view, err := s.reader.Read(r.Context(), rawURL)
	switch {
	case errors.Is(err, reader.ErrInvalidURL):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	case errors.Is(err, reader.ErrForbidden):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	case err != nil:
		s.logger.Error("failed to build reader view", "url", rawURL, "err", err)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(markdown(view)))
		return
	}

	var buf bytes.Buffer
	if err := s.renderer.Reader(&buf, render.ReaderPage{
		AppName: s.opts.AppName,
		Nav:     navItems(""),
		View:    view,
	}); err != nil {
		s.logger.Error("failed to render reader view", "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func markdown(v reader.View) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", v.Title)
	if v.Summary != "" {
		fmt.Fprintf(&b, "> %s\n\n", v.Summary)
	}
	body := v.Markdown
	if body == "" {
		body = v.Text
	}
	b.WriteString(body)
	fmt.Fprintf(&b, "\n\n[Original](%s)\n", v.URL)
	return b.String()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(start))
	})
}
