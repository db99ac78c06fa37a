package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StaticServer serves the capture surface's single entry document and nothing else.
type StaticServer struct {
	addr     string
	document string
	logger   *slog.Logger

	srv *http.Server
}

// NewStaticServer serves the file at documentPath on addr.
func NewStaticServer(addr string, documentPath string, logger *slog.Logger) *StaticServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StaticServer{
		addr:     addr,
		document: documentPath,
		logger:   logger.With("component", "static"),
	}
}

// EntryName is the only non-root path the server answers.
func (s *StaticServer) EntryName() string {
	return filepath.Base(s.document)
}

// Handler exposes the allow-listed file handler, mainly for httptest.
func (s *StaticServer) Handler() http.Handler {
	entry := "/" + s.EntryName()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w.Header())

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path != "/" && r.URL.Path != entry {
			http.NotFound(w, r)
			return
		}

		data, err := os.ReadFile(s.document)
		if err != nil {
			s.logger.Error("read entry document", "path", s.document, "error", err)
			http.Error(w, "entry document unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	})
}

// ListenAndServe serves until ctx ends.
func (s *StaticServer) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.logger.Info("static server listening", "addr", listener.Addr().String(), "document", s.EntryName())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// CaptureURL is the address a user opens to connect the capture surface.
func CaptureURL(staticAddr string, entry string, token string) string {
	host := staticAddr
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	return fmt.Sprintf("http://%s/%s?token=%s", host, entry, token)
}

func setSecurityHeaders(h http.Header) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-cache")
}
