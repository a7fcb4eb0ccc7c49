package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deemusic/deemusic-player/internal/batch"
	"github.com/deemusic/deemusic-player/internal/config"
	apperrors "github.com/deemusic/deemusic-player/internal/errors"
)

const trackJSON = `{
	"id": 3135556,
	"title": "Harder, Better, Faster, Stronger",
	"duration": 224,
	"track_position": 4,
	"disk_number": 1,
	"readable": true,
	"release_date": "2001-03-07",
	"preview": "https://cdn.example.com/preview/3135556.mp3",
	"artist": {"id": 27, "name": "Daft Punk"},
	"album": {
		"id": "302127",
		"title": "Discovery",
		"cover_big": "https://cdn.example.com/cover/big.jpg",
		"cover_xl": "https://cdn.example.com/cover/xl.jpg",
		"release_date": "2001-03-07",
		"artist": {"id": 27, "name": "Daft Punk"}
	}
}`

func newCatalog(t *testing.T, handler http.HandlerFunc) *HTTPResolver {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.ResolverConfig{BaseURL: server.URL, RequestsPerSecond: 1000, Burst: 1000}
	return NewHTTPResolver(cfg, server.Client(), nil)
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		ref  string
		want string
		ok   bool
	}{
		{"3135556", "3135556", true},
		{" track:42 ", "42", true},
		{"https://www.deezer.com/track/3135556", "3135556", true},
		{"https://www.deezer.com/en/track/3135556?utm=x", "3135556", true},
		{"", "", false},
		{"track:", "", false},
		{"album:12", "", false},
		{"https://www.deezer.com/album/302127", "", false},
		{"-5", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, ok := ParseReference(tt.ref)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseReference(%q) = %q, %v; want %q, %v", tt.ref, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	var gotPath, gotAgent string
	r := newCatalog(t, func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		gotAgent = req.Header.Get("User-Agent")
		fmt.Fprint(w, trackJSON)
	})

	track, err := r.Resolve(context.Background(), "track:3135556")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if gotPath != "/track/3135556" {
		t.Errorf("Request path = %q", gotPath)
	}
	if gotAgent == "" {
		t.Error("Expected a User-Agent header")
	}

	if track.ID != "3135556" {
		t.Errorf("ID = %q", track.ID)
	}
	if track.SourceURI != "https://cdn.example.com/preview/3135556.mp3" {
		t.Errorf("SourceURI = %q", track.SourceURI)
	}
	if track.Artist != "Daft Punk" || track.Album != "Discovery" || track.AlbumArtist != "Daft Punk" {
		t.Errorf("Unexpected names: %+v", track)
	}
	if track.CoverURL != "https://cdn.example.com/cover/xl.jpg" {
		t.Errorf("CoverURL = %q", track.CoverURL)
	}
	if track.Duration != 224*time.Second {
		t.Errorf("Duration = %v", track.Duration)
	}
	if track.TrackNumber != 4 || track.Year != 2001 {
		t.Errorf("TrackNumber = %d, Year = %d", track.TrackNumber, track.Year)
	}

	tags := track.Tags()
	if tags.Title != track.Title || tags.CoverURL != track.CoverURL || tags.Year != 2001 {
		t.Errorf("Unexpected tags: %+v", tags)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		status  int
		body    string
		invalid bool
	}{
		{name: "unparseable reference", ref: "not-a-track", invalid: true},
		{name: "http not found", ref: "1", status: http.StatusNotFound, invalid: true},
		{name: "data not found", ref: "1", status: http.StatusOK,
			body: `{"error":{"type":"DataException","message":"no data","code":800}}`, invalid: true},
		{name: "not readable", ref: "1", status: http.StatusOK,
			body: `{"id":1,"title":"x","readable":false,"preview":"https://cdn.example.com/1.mp3"}`, invalid: true},
		{name: "no stream", ref: "1", status: http.StatusOK, body: `{"id":1,"title":"x"}`, invalid: true},
		{name: "quota exceeded", ref: "1", status: http.StatusOK,
			body: `{"error":{"type":"Exception","message":"Quota limit exceeded","code":4}}`},
		{name: "server error", ref: "1", status: http.StatusBadGateway},
		{name: "bad json", ref: "1", status: http.StatusOK, body: `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newCatalog(t, func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := r.Resolve(context.Background(), tt.ref)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if got := apperrors.IsInvalidReference(err); got != tt.invalid {
				t.Errorf("IsInvalidReference = %v, want %v (%v)", got, tt.invalid, err)
			}
			if !tt.invalid && !apperrors.IsNetworkError(err) {
				t.Errorf("Expected a network error, got %v", err)
			}
		})
	}
}

func TestResolveUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	r := NewHTTPResolver(config.ResolverConfig{BaseURL: url}, nil, nil)
	_, err := r.Resolve(context.Background(), "1")
	if !apperrors.IsNetworkError(err) {
		t.Errorf("Expected a network error, got %v", err)
	}
}

func TestResolveCanceled(t *testing.T) {
	r := newCatalog(t, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, trackJSON)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Resolve(ctx, "1"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// stubResolver resolves numeric refs and fails the rest
type stubResolver struct {
	calls atomic.Int32
	delay time.Duration
}

func (s *stubResolver) Resolve(ctx context.Context, ref string) (Track, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	id, ok := ParseReference(ref)
	if !ok {
		return Track{}, apperrors.NewInvalidReferenceError(ref, nil)
	}
	var t Track
	t.ID = id
	t.Title = "Track " + id
	return t, nil
}

func TestCachingResolver(t *testing.T) {
	stub := &stubResolver{delay: 20 * time.Millisecond}
	c := NewCachingResolver(stub, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Resolve(context.Background(), "track:7"); err != nil {
				t.Errorf("Resolve failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// Same ID through a different spelling hits the cache
	if track, err := c.Resolve(context.Background(), "7"); err != nil || track.ID != "7" {
		t.Fatalf("Resolve = %+v, %v", track, err)
	}
	if got := stub.calls.Load(); got != 1 {
		t.Errorf("Underlying calls = %d, want 1", got)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}

	// Failures are not cached
	for i := 0; i < 2; i++ {
		if _, err := c.Resolve(context.Background(), "bogus"); !apperrors.IsInvalidReference(err) {
			t.Errorf("Expected invalid reference, got %v", err)
		}
	}
	if got := stub.calls.Load(); got != 3 {
		t.Errorf("Underlying calls = %d, want 3", got)
	}

	c.Forget("7")
	if _, err := c.Resolve(context.Background(), "7"); err != nil {
		t.Fatal(err)
	}
	if got := stub.calls.Load(); got != 4 {
		t.Errorf("Underlying calls after Forget = %d, want 4", got)
	}
}

func TestCachingResolverTTL(t *testing.T) {
	stub := &stubResolver{}
	c := NewCachingResolver(stub, 10*time.Millisecond)

	c.Resolve(context.Background(), "1")
	c.Resolve(context.Background(), "1")
	time.Sleep(20 * time.Millisecond)
	c.Resolve(context.Background(), "1")

	if got := stub.calls.Load(); got != 2 {
		t.Errorf("Underlying calls = %d, want 2", got)
	}
}

func TestResolveAll(t *testing.T) {
	stub := &stubResolver{}
	refs := []string{"1", "gone", "3"}

	report := batch.Collect(ResolveAll(context.Background(), stub, refs))
	if report.Total != 3 || len(report.Succeeded) != 2 || len(report.Failures) != 1 {
		t.Fatalf("Unexpected report: %+v", report)
	}
	if report.Outcome() != batch.OutcomeSomeFailed {
		t.Errorf("Outcome = %v", report.Outcome())
	}
	invalid := report.InvalidReferences()
	if len(invalid) != 1 || invalid[0].Key != "gone" || invalid[0].Index != 1 {
		t.Errorf("InvalidReferences = %+v", invalid)
	}
}

func TestResolveAllIsLazy(t *testing.T) {
	stub := &stubResolver{}
	refs := []string{"1", "2", "3", "4"}

	n := 0
	for range ResolveAll(context.Background(), stub, refs) {
		n++
		if n == 2 {
			break
		}
	}
	if got := stub.calls.Load(); got != 2 {
		t.Errorf("Resolved %d refs, want 2", got)
	}
}

func TestResolveAllStopsOnCancel(t *testing.T) {
	stub := &stubResolver{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var results []batch.Result[Track]
	for r := range ResolveAll(ctx, stub, []string{"1", "2"}) {
		results = append(results, r)
	}
	if len(results) != 1 || !errors.Is(results[0].Err, context.Canceled) {
		t.Errorf("Unexpected results: %+v", results)
	}
	if stub.calls.Load() != 0 {
		t.Error("Expected no resolutions after cancel")
	}
}

func TestItems(t *testing.T) {
	stub := &stubResolver{}
	var ids []string
	for r := range Items(ResolveAll(context.Background(), stub, []string{"5", "x", "6"})) {
		if r.Err != nil {
			continue
		}
		ids = append(ids, r.Value.ID)
	}
	if strings.Join(ids, ",") != "5,6" {
		t.Errorf("Items = %v", ids)
	}
}
