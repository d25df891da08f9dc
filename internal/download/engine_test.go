package download

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lidarfetch/lidarfetch/internal/core/model"
	"github.com/lidarfetch/lidarfetch/internal/progress"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(tracker *progress.Tracker) *Engine {
	return NewEngine(discard(), http.DefaultClient, Options{
		Retry: RetryPolicy{
			MaxAttempts: 3,
			Backoff:     time.Millisecond,
			RetryableStatus: map[int]struct{}{
				429: {}, 500: {}, 502: {}, 503: {}, 504: {},
			},
		},
		MinFileSize: 10,
		Tracker:     tracker,
	})
}

func TestFetch_Success(t *testing.T) {
	body := strings.Repeat("z", 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	res := testEngine(nil).Fetch(context.Background(), model.DownloadTask{
		URL:     srv.URL + "/tiles/dalle_01.laz",
		DestDir: dir,
	})
	if !res.OK {
		t.Fatal("download should succeed")
	}
	if filepath.Base(res.Path) != "dalle_01.laz" {
		t.Fatalf("path=%q want name derived from url", res.Path)
	}
	got, err := os.ReadFile(res.Path)
	if err != nil || string(got) != body {
		t.Fatalf("content mismatch: %v", err)
	}
}

func TestFetch_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, strings.Repeat("z", 64))
	}))
	defer srv.Close()

	res := testEngine(nil).Fetch(context.Background(), model.DownloadTask{
		URL:     srv.URL + "/t.laz",
		DestDir: t.TempDir(),
	})
	if !res.OK {
		t.Fatal("download should succeed after retries")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls=%d want 3", got)
	}
}

func TestFetch_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	res := testEngine(nil).Fetch(context.Background(), model.DownloadTask{
		URL:     srv.URL + "/t.laz",
		DestDir: t.TempDir(),
	})
	if res.OK {
		t.Fatal("404 must fail")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls=%d want 1 (404 is not retryable)", got)
	}
}

func TestFetch_SkipsExistingValidFile(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, strings.Repeat("z", 64))
	}))
	defer srv.Close()

	dir := t.TempDir()
	task := model.DownloadTask{URL: srv.URL + "/t.laz", DestDir: dir}
	e := testEngine(nil)

	if res := e.Fetch(context.Background(), task); !res.OK {
		t.Fatal("first download should succeed")
	}
	if res := e.Fetch(context.Background(), task); !res.OK {
		t.Fatal("second run should reuse the file")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls=%d want 1 (second run must not hit the network)", got)
	}
}

func TestFetch_ForceRedownloads(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, strings.Repeat("z", 64))
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := testEngine(nil)
	task := model.DownloadTask{URL: srv.URL + "/t.laz", DestDir: dir}
	_ = e.Fetch(context.Background(), task)

	task.Force = true
	if res := e.Fetch(context.Background(), task); !res.OK {
		t.Fatal("forced download should succeed")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls=%d want 2", got)
	}
}

func TestFetch_TruncatedBodyNotPublished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "tiny") // below MinFileSize
	}))
	defer srv.Close()

	dir := t.TempDir()
	res := testEngine(nil).Fetch(context.Background(), model.DownloadTask{
		URL:     srv.URL + "/t.laz",
		DestDir: dir,
	})
	if res.OK {
		t.Fatal("undersized body must fail")
	}
	assertNoFiles(t, dir)
}

func TestFetch_ExplicitNameWins(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("catalog/tiles.geojson")
	_, _ = io.WriteString(w, strings.Repeat("z", 64))
	_ = zw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	res := testEngine(nil).Fetch(context.Background(), model.DownloadTask{
		URL:     srv.URL + "/whatever",
		Name:    "catalog_index.zip",
		DestDir: t.TempDir(),
	})
	if !res.OK {
		t.Fatal("download should succeed")
	}
	if filepath.Base(res.Path) != "catalog_index.zip" {
		t.Fatalf("path=%q want explicit name", res.Path)
	}
}

func TestDownloadAll_BoundedWorkersAndTracker(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = io.WriteString(w, strings.Repeat("z", 64))
	}))
	defer srv.Close()

	tracker := progress.New(nil)
	e := testEngine(tracker)

	dir := t.TempDir()
	tasks := make([]model.DownloadTask, 5)
	for i := range tasks {
		tasks[i] = model.DownloadTask{
			URL:     srv.URL + "/tile_" + string(rune('a'+i)) + ".laz",
			DestDir: dir,
		}
	}

	results := e.DownloadAll(context.Background(), tasks, 2)
	if len(results) != 5 {
		t.Fatalf("results=%d want 5", len(results))
	}
	for _, r := range results {
		if !r.OK {
			t.Fatalf("unexpected failure: %+v", r)
		}
	}
	if p := peak.Load(); p > 2 {
		t.Fatalf("peak concurrency=%d want <=2", p)
	}
	completed, total := tracker.Snapshot()
	if completed != 5 || total != 5 {
		t.Fatalf("tracker=(%d,%d) want (5,5)", completed, total)
	}
}

func TestDownloadAll_ClampsConcurrency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("z", 64))
	}))
	defer srv.Close()

	e := testEngine(nil)
	tasks := []model.DownloadTask{{URL: srv.URL + "/t.laz", DestDir: t.TempDir()}}
	// zero and negative worker counts must still make progress
	if results := e.DownloadAll(context.Background(), tasks, 0); !results[0].OK {
		t.Fatal("maxWorkers=0 should clamp to 1")
	}
}

func TestDownloadAll_CancellationLeavesNoTemps(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, strings.Repeat("z", 64))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release // hold the connection so the body never finishes
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	dir := t.TempDir()
	e := testEngine(nil)

	done := make(chan []model.DownloadResult, 1)
	go func() {
		done <- e.DownloadAll(ctx, []model.DownloadTask{
			{URL: srv.URL + "/a.laz", DestDir: dir},
			{URL: srv.URL + "/b.laz", DestDir: dir},
		}, 2)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case results := <-done:
		if len(results) != 2 {
			t.Fatalf("results=%d want 2", len(results))
		}
		for _, r := range results {
			if r.OK {
				t.Fatalf("cancelled task reported success: %+v", r)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("DownloadAll did not return after cancellation")
	}
	assertNoFiles(t, dir)
}

func assertNoFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Fatalf("unexpected leftover file %q", e.Name())
	}
}
