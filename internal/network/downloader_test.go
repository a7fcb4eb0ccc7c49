package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/deemusic/deemusic-player/internal/errors"
	"github.com/deemusic/deemusic-player/internal/transfer"
)

var payload = bytes.Repeat([]byte("0123456789"), 10000)

func serveContent(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "track.mp3", time.Time{}, bytes.NewReader(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func request(t *testing.T, url string) transfer.Request {
	dest := filepath.Join(t.TempDir(), "track.mp3")
	return transfer.Request{
		URL:         url,
		Destination: dest,
		PartialPath: transfer.PartialPath(dest),
	}
}

func TestDownloadWritesPartial(t *testing.T) {
	srv := serveContent(t)
	d := NewDownloader(srv.Client(), 0, nil)

	req := request(t, srv.URL+"/track.mp3")
	var lastDone, lastTotal int64
	req.Progress = func(done, total int64) {
		atomic.StoreInt64(&lastDone, done)
		atomic.StoreInt64(&lastTotal, total)
	}

	op, err := d.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	written, err := op.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if written != int64(len(payload)) {
		t.Errorf("written = %d, want %d", written, len(payload))
	}
	if atomic.LoadInt64(&lastDone) != int64(len(payload)) || atomic.LoadInt64(&lastTotal) != int64(len(payload)) {
		t.Errorf("Last progress = %d/%d", lastDone, lastTotal)
	}

	data, err := os.ReadFile(req.PartialPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("Downloaded content does not match")
	}
	if d.ActiveCount() != 0 {
		t.Errorf("Expected no active downloads, got %d", d.ActiveCount())
	}
}

func TestDownloadResumesWithRange(t *testing.T) {
	var sawRange atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawRange.Store(r.Header.Get("Range"))
		http.ServeContent(w, r, "track.mp3", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client(), 0, nil)
	req := request(t, srv.URL)
	if err := os.WriteFile(req.PartialPath, payload[:4096], 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	op, err := d.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := op.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if got, _ := sawRange.Load().(string); got != "bytes=4096-" {
		t.Errorf("Range header = %q, want bytes=4096-", got)
	}
	data, _ := os.ReadFile(req.PartialPath)
	if !bytes.Equal(data, payload) {
		t.Errorf("Resumed content mismatch: got %d bytes", len(data))
	}
}

func TestDownloadRestartsWhenRangeIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client(), 0, nil)
	req := request(t, srv.URL)
	if err := os.WriteFile(req.PartialPath, []byte("stale"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	op, _ := d.Start(context.Background(), req)
	if _, err := op.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	data, _ := os.ReadFile(req.PartialPath)
	if !bytes.Equal(data, payload) {
		t.Error("Expected the stale partial to be overwritten")
	}
}

func TestDownloadStatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := NewDownloader(srv.Client(), 0, nil)
	op, err := d.Start(context.Background(), request(t, srv.URL))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_, err = op.Wait(context.Background())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("Expected StatusError 404, got %v", err)
	}

	typed := transfer.TranslateError(err)
	if !apperrors.IsTransferError(typed) {
		t.Errorf("Expected transfer error, got %v", typed)
	}
	var appErr *apperrors.AppError
	if !errors.As(typed, &appErr) || appErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status code 404 on the typed error, got %v", typed)
	}
}

func TestDownloadUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := NewDownloader(nil, 0, nil)
	op, err := d.Start(context.Background(), request(t, url))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_, err = op.Wait(context.Background())
	if !apperrors.IsNetworkError(transfer.TranslateError(err)) {
		t.Errorf("Expected network error for a closed server, got %v", err)
	}
}

func blockingServer(t *testing.T) (*httptest.Server, chan struct{}, *int32) {
	t.Helper()
	release := make(chan struct{})
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("01234"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
			w.Write([]byte("56789"))
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		srv.Close()
	})
	return srv, release, &hits
}

func TestSecondStartAttaches(t *testing.T) {
	srv, release, hits := blockingServer(t)
	d := NewDownloader(srv.Client(), 0, nil)
	req := request(t, srv.URL)

	first, err := d.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	second, err := d.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if d.ActiveCount() != 1 {
		t.Errorf("Expected one shared download, got %d", d.ActiveCount())
	}

	close(release)

	n1, err1 := first.Wait(context.Background())
	n2, err2 := second.Wait(context.Background())
	if err1 != nil || err2 != nil {
		t.Fatalf("Wait errors: %v, %v", err1, err2)
	}
	if n1 != 10 || n2 != 10 {
		t.Errorf("Expected both waiters to see 10 bytes, got %d and %d", n1, n2)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Errorf("Expected one HTTP request, got %d", atomic.LoadInt32(hits))
	}
}

func TestWaitCancelStopsDownload(t *testing.T) {
	srv, _, _ := blockingServer(t)
	d := NewDownloader(srv.Client(), 0, nil)

	op, err := d.Start(context.Background(), request(t, srv.URL))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = op.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if d.ActiveCount() != 0 {
		t.Errorf("Expected download to stop after its only waiter left, got %d active", d.ActiveCount())
	}
}

func TestGatePauseResume(t *testing.T) {
	g := newGate()
	if err := g.wait(context.Background()); err != nil {
		t.Fatalf("Open gate should not block: %v", err)
	}

	g.pause()
	g.pause()

	passed := make(chan struct{})
	go func() {
		g.wait(context.Background())
		close(passed)
	}()

	select {
	case <-passed:
		t.Fatal("Paused gate let the reader through")
	case <-time.After(20 * time.Millisecond):
	}

	g.resume()
	g.resume()

	select {
	case <-passed:
	case <-time.After(time.Second):
		t.Fatal("Resumed gate did not release the reader")
	}
}

func TestGateWaitHonorsContext(t *testing.T) {
	g := newGate()
	g.pause()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestBandwidthLimiter(t *testing.T) {
	if got := NewDownloader(nil, 0, nil).BandwidthLimit(); got != 0 {
		t.Errorf("Expected unlimited, got %d", got)
	}
	d := NewDownloader(nil, 512, nil)
	if got := float64(d.limiter.Limit()); got != 512*1024 {
		t.Errorf("Limit = %v, want %v", got, 512*1024)
	}

	d.SetBandwidthLimit(128)
	if got := d.BandwidthLimit(); got != 128 {
		t.Errorf("BandwidthLimit() = %d after update, want 128", got)
	}
	d.SetBandwidthLimit(0)
	if got := d.BandwidthLimit(); got != 0 {
		t.Errorf("BandwidthLimit() = %d after removing the cap, want 0", got)
	}
}

func TestDownloadRestartsOnMismatchedRange(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Range") != "" {
			// A different copy of the resource answers from byte zero
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(payload)-1, len(payload)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(payload)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client(), 0, nil)
	req := request(t, srv.URL)
	if err := os.WriteFile(req.PartialPath, []byte("stale-bytes"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	op, _ := d.Start(context.Background(), req)
	if _, err := op.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	data, _ := os.ReadFile(req.PartialPath)
	if !bytes.Equal(data, payload) {
		t.Errorf("Expected a clean restart, got %d bytes", len(data))
	}
	if requests.Load() != 2 {
		t.Errorf("Expected a range request then a full request, got %d", requests.Load())
	}
}

func TestDownloadRestartsWhenPartialIsLonger(t *testing.T) {
	srv := serveContent(t)
	d := NewDownloader(srv.Client(), 0, nil)
	req := request(t, srv.URL)

	longer := append(bytes.Clone(payload), []byte("left-over-tail")...)
	if err := os.WriteFile(req.PartialPath, longer, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	op, _ := d.Start(context.Background(), req)
	if _, err := op.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	data, _ := os.ReadFile(req.PartialPath)
	if !bytes.Equal(data, payload) {
		t.Errorf("Expected the oversized partial to be replaced, got %d bytes", len(data))
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header      string
		first, size int64
		ok          bool
	}{
		{"bytes 100-199/200", 100, 200, true},
		{"bytes 0-0/1", 0, 1, true},
		{"bytes 5-9/*", 5, -1, true},
		{"bytes 100-199/150", 0, 0, false},
		{"bytes 9-5/20", 0, 0, false},
		{"items 0-1/2", 0, 0, false},
		{"bytes */200", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		first, size, ok := parseContentRange(tt.header)
		if ok != tt.ok || first != tt.first || size != tt.size {
			t.Errorf("parseContentRange(%q) = %d, %d, %v; want %d, %d, %v",
				tt.header, first, size, ok, tt.first, tt.size, tt.ok)
		}
	}
}

func TestStartRefusesBusyDestination(t *testing.T) {
	srv, release, hits := blockingServer(t)
	d := NewDownloader(srv.Client(), 0, nil)
	req := request(t, srv.URL+"/one")

	first, err := d.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	other := req
	other.URL = srv.URL + "/two"
	if _, err := d.Start(context.Background(), other); apperrors.GetErrorType(err) != apperrors.ErrTypeValidation {
		t.Errorf("Expected validation error for a busy destination, got %v", err)
	}

	close(release)
	if _, err := first.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Errorf("Expected only the first URL to be fetched, got %d requests", atomic.LoadInt32(hits))
	}

	// Once the destination is free the other URL may use it
	op, err := d.Start(context.Background(), other)
	if err != nil {
		t.Fatalf("Start after release failed: %v", err)
	}
	if _, err := op.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Code: 403, URL: "https://x/a"}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("Expected status in message, got %q", err.Error())
	}
	if err.HTTPStatus() != 403 {
		t.Errorf("HTTPStatus() = %d, want 403", err.HTTPStatus())
	}
}
