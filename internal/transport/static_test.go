package transport

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newTestStaticServer(t *testing.T) *StaticServer {
	t.Helper()
	dir := t.TempDir()
	document := filepath.Join(dir, "capture.html")
	if err := os.WriteFile(document, []byte("<html>capture</html>"), 0o600); err != nil {
		t.Fatalf("failed to write document: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("secret"), 0o600); err != nil {
		t.Fatalf("failed to write sibling: %v", err)
	}
	return NewStaticServer("127.0.0.1:0", document, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStaticServerServesOnlyEntryDocument(t *testing.T) {
	t.Parallel()

	handler := newTestStaticServer(t).Handler()

	cases := map[string]int{
		"/":                           http.StatusOK,
		"/capture.html":               http.StatusOK,
		"/capture.html?token=abc":     http.StatusOK,
		"/secret.txt":                 http.StatusNotFound,
		"/../secret.txt":              http.StatusNotFound,
		"/capture.html/../secret.txt": http.StatusNotFound,
		"/sub/capture.html":           http.StatusNotFound,
	}
	for target, want := range cases {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, target, nil))
		if recorder.Code != want {
			t.Fatalf("%s: got status %d want %d", target, recorder.Code, want)
		}
		if recorder.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("%s: missing security headers", target)
		}
		if want == http.StatusOK && recorder.Body.String() != "<html>capture</html>" {
			t.Fatalf("%s: unexpected body %q", target, recorder.Body.String())
		}
	}
}

func TestStaticServerRejectsWrites(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	newTestStaticServer(t).Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestCaptureURL(t *testing.T) {
	t.Parallel()

	got := CaptureURL(":8080", "capture.html", "tok")
	if got != "http://127.0.0.1:8080/capture.html?token=tok" {
		t.Fatalf("unexpected url: %s", got)
	}
}
