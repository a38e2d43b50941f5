// Package server exposes digest generation over HTTP and on a schedule.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/ppiankov/feeddigest/internal/digest"
	"github.com/ppiankov/feeddigest/internal/pipeline"
)

// Generator produces digests. *pipeline.Generator satisfies it.
type Generator interface {
	Generate(ctx context.Context, opts pipeline.Options) (*digest.Digest, *pipeline.Report, error)
}

// Server serves digests and keeps the most recent committed one.
type Server struct {
	gen    Generator
	logger *slog.Logger
	now    func() time.Time

	// runMu serializes committing runs so two of them never emit the
	// same fresh items.
	runMu sync.Mutex

	mu         sync.RWMutex
	latest     *digest.Digest
	latestRun  string
	latestTime time.Time
}

func New(gen Generator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{gen: gen, logger: logger, now: time.Now}
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.health)

	api := r.Group("/api")
	{
		api.GET("/run-digest", s.runDigest)
		api.GET("/digest/preview", s.preview)
		api.GET("/digest/latest", s.latestDigest)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}
	s.mu.RLock()
	if s.latest != nil {
		body["last_run_id"] = s.latestRun
		body["last_run_at"] = s.latestTime.UTC().Format(time.RFC3339)
	}
	s.mu.RUnlock()
	c.JSON(http.StatusOK, body)
}

// runDigest generates and commits a digest.
func (s *Server) runDigest(c *gin.Context) {
	s.serveGenerate(c, false)
}

// preview generates a digest without committing seen state.
func (s *Server) preview(c *gin.Context) {
	s.serveGenerate(c, true)
}

func (s *Server) serveGenerate(c *gin.Context, dryRun bool) {
	start, err := pipeline.ParseWindowStart(c.Query("windowStart"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, report, err := s.generate(c.Request.Context(), pipeline.Options{WindowStart: start, DryRun: dryRun})
	if report != nil {
		c.Header("X-Digest-Run-Id", report.RunID)
		c.Header("X-Digest-Failures", strconv.Itoa(len(report.Failures)))
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrConfiguration) {
			status = http.StatusBadRequest
		}
		s.logger.Error("digest request failed", "err", err, "dry_run", dryRun)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) latestDigest(c *gin.Context) {
	s.mu.RLock()
	d, runID := s.latest, s.latestRun
	s.mu.RUnlock()

	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no digest generated yet"})
		return
	}
	c.Header("X-Digest-Run-Id", runID)
	c.JSON(http.StatusOK, d)
}

// generate runs the pipeline and remembers committed digests.
func (s *Server) generate(ctx context.Context, opts pipeline.Options) (*digest.Digest, *pipeline.Report, error) {
	if !opts.DryRun {
		s.runMu.Lock()
		defer s.runMu.Unlock()
	}

	d, report, err := s.gen.Generate(ctx, opts)
	if err != nil || opts.DryRun {
		return d, report, err
	}

	s.mu.Lock()
	s.latest, s.latestRun, s.latestTime = d, report.RunID, d.GeneratedAt
	s.mu.Unlock()
	return d, report, nil
}

// RunScheduled generates a committed digest and writes it as JSON to
// output, replacing the previous file atomically.
func (s *Server) RunScheduled(ctx context.Context, output string) error {
	d, report, err := s.generate(ctx, pipeline.Options{})
	if err != nil {
		return err
	}
	if output != "" {
		if err := writeJSON(output, d); err != nil {
			return err
		}
	}
	s.logger.Info("scheduled digest written",
		"run_id", report.RunID,
		"items", d.ItemCount(),
		"failures", len(report.Failures),
		"output", output,
	)
	return nil
}

// Schedule registers RunScheduled on a cron spec evaluated in loc. The
// caller starts and stops the returned scheduler.
func (s *Server) Schedule(ctx context.Context, spec string, loc *time.Location, output string) (*cron.Cron, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(spec, func() {
		s.logger.Info("cron triggered, running digest", "schedule", spec)
		if err := s.RunScheduled(ctx, output); err != nil {
			s.logger.Error("scheduled run failed", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("cron schedule %q: %w", spec, err)
	}
	return c, nil
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func writeJSON(path string, d *digest.Digest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".digest-*.json")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := digest.NewJSON().Format(tmp, *d); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write digest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write digest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace output: %w", err)
	}
	return nil
}
