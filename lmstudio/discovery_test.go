package lmstudio

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

// testServerAddr splits an httptest server URL into the host and port
// Discover takes.
func testServerAddr(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return u.Hostname(), port
}

func TestDiscoverPinnedAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	host, port := testServerAddr(t, srv)
	got, err := Discover(host, port)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want := host + ":" + strconv.Itoa(port)
	if got != want {
		t.Errorf("Discover = %q, want %q", got, want)
	}
}

func TestDiscoverRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	host, port := testServerAddr(t, srv)
	_, err := Discover(host, port)
	if !errors.Is(err, ErrNoServer) {
		t.Fatalf("err = %v, want ErrNoServer", err)
	}
}

func TestDiscoverNoServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host, port := testServerAddr(t, srv)
	srv.Close()

	_, err := Discover(host, port)
	if !errors.Is(err, ErrNoServer) {
		t.Fatalf("err = %v, want ErrNoServer", err)
	}
}
