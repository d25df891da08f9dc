// Package download fetches selected tiles to disk under bounded concurrency,
// with validation, idempotent skip of existing valid files, atomic
// publication, and cooperative cancellation.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lidarfetch/lidarfetch/internal/core/model"
	"github.com/lidarfetch/lidarfetch/internal/core/observability"
	"github.com/lidarfetch/lidarfetch/internal/progress"
)

// Failure kinds. All are absorbed per task and surfaced only through logs and
// a false DownloadResult; none aborts sibling tasks.
var (
	ErrCancelled = errors.New("download cancelled")
	ErrDiskSpace = errors.New("insufficient disk space")
	ErrIntegrity = errors.New("integrity check failed")
	ErrRename    = errors.New("rename failed")
)

const (
	minConcurrency = 1
	maxConcurrency = 10
	chunkSize      = 32 << 10
)

type Options struct {
	Retry           RetryPolicy
	MinFileSize     int64
	EstimatedTileMB int64
	DiskMarginMB    int64
	RateLimit       int // requests/second, 0 disables
	Tracker         *progress.Tracker
}

type Engine struct {
	log     *slog.Logger
	client  *http.Client
	retry   RetryPolicy
	limiter *rate.Limiter
	tracker *progress.Tracker
	temps   *tempRegistry

	minFileSize     int64
	estimatedTileMB int64
	diskMarginMB    int64
}

func NewEngine(log *slog.Logger, client *http.Client, opts Options) *Engine {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.MinFileSize <= 0 {
		opts.MinFileSize = 1024
	}
	if opts.EstimatedTileMB <= 0 {
		opts.EstimatedTileMB = 100
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimit)
	}
	return &Engine{
		log:             log,
		client:          client,
		retry:           opts.Retry,
		limiter:         limiter,
		tracker:         opts.Tracker,
		temps:           newTempRegistry(),
		minFileSize:     opts.MinFileSize,
		estimatedTileMB: opts.EstimatedTileMB,
		diskMarginMB:    opts.DiskMarginMB,
	}
}

// DownloadAll fetches every task with at most maxWorkers in flight. Results
// arrive in completion order. Cancellation stops submission of queued tasks,
// lets in-flight tasks unwind at their next chunk, and still returns whatever
// completed before the stop; the batch itself never fails.
func (e *Engine) DownloadAll(ctx context.Context, tasks []model.DownloadTask, maxWorkers int) []model.DownloadResult {
	if maxWorkers < minConcurrency {
		maxWorkers = minConcurrency
	}
	if maxWorkers > maxConcurrency {
		maxWorkers = maxConcurrency
	}
	if e.tracker != nil {
		e.tracker.SetTotal(len(tasks))
	}

	var (
		mu      sync.Mutex
		results = make([]model.DownloadResult, 0, len(tasks))
	)
	record := func(res model.DownloadResult) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
		if e.tracker != nil {
			e.tracker.MarkCompleted()
		}
	}

	var g errgroup.Group
	g.SetLimit(maxWorkers)
	for _, task := range tasks {
		if ctx.Err() != nil {
			// queued task cancelled before it ever started
			record(model.DownloadResult{})
			observability.ObserveDownload("cancelled", 0, 0)
			continue
		}
		g.Go(func() error {
			record(e.Fetch(ctx, task))
			return nil
		})
	}
	_ = g.Wait()
	e.temps.sweep(e.log)
	return results
}

// Fetch downloads a single task. Exposed so the catalog can reuse the engine
// for mirror/archive downloads outside a tracked batch.
func (e *Engine) Fetch(ctx context.Context, task model.DownloadTask) model.DownloadResult {
	start := time.Now()
	path, bytes, err := e.fetch(ctx, task)
	switch {
	case err == nil:
		if bytes == 0 {
			observability.ObserveDownload("skipped", 0, 0)
		} else {
			observability.ObserveDownload("success", bytes, time.Since(start).Seconds())
		}
		return model.DownloadResult{OK: true, Path: path}
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		e.log.Info("download cancelled", "url", task.URL)
		observability.ObserveDownload("cancelled", 0, 0)
	default:
		e.log.Error("download failed", "url", task.URL, "err", err)
		observability.ObserveDownload("failed", 0, 0)
	}
	return model.DownloadResult{}
}

func (e *Engine) fetch(ctx context.Context, task model.DownloadTask) (string, int64, error) {
	if ctx.Err() != nil {
		return "", 0, ErrCancelled
	}

	name := SanitizeFilename(task.Name)
	if name == "" {
		name = DeriveFilename(task.URL, "")
	}
	if name == "" {
		name = RandomFilename()
	}
	name = EnsureExtension(name)
	dest := filepath.Join(task.DestDir, name)

	if _, err := os.Stat(dest); err == nil {
		if task.Force {
			e.log.Info("force download enabled, removing existing file", "path", dest)
			if err := SafeRemove(dest); err != nil {
				return "", 0, err
			}
		} else if err := ValidateFile(dest, e.minFileSize); err == nil {
			e.log.Info("using existing valid file", "path", dest)
			return dest, 0, nil
		} else {
			// existing file is corrupt, re-download it
			e.log.Warn("existing file failed validation, re-downloading", "path", dest, "err", err)
			if err := SafeRemove(dest); err != nil {
				return "", 0, err
			}
		}
	}

	if err := CheckDiskSpace(task.DestDir, e.estimatedTileMB+e.diskMarginMB); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrDiskSpace, err)
	}

	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(e.retry.Delay(attempt - 1)):
			case <-ctx.Done():
				return "", 0, ErrCancelled
			}
		}

		bytes, err := e.attempt(ctx, task.URL, dest)
		if err == nil {
			e.log.Info("downloaded", "path", dest, "bytes", bytes)
			return dest, bytes, nil
		}
		if errors.Is(err, ErrCancelled) || ctx.Err() != nil {
			return "", 0, ErrCancelled
		}
		lastErr = err
		if !retryableError(err, e.retry) {
			break
		}
		e.log.Warn("download attempt failed, retrying", "url", task.URL, "attempt", attempt, "err", err)
	}
	return "", 0, lastErr
}

// statusError marks an HTTP status failure so the retry policy can classify it.
type statusError struct {
	code int
}

func (s *statusError) Error() string { return fmt.Sprintf("HTTP %d", s.code) }

func retryableError(err error, policy RetryPolicy) bool {
	var se *statusError
	if errors.As(err, &se) {
		return policy.Retryable(se.code)
	}
	// integrity and filesystem failures are not transient
	if errors.Is(err, ErrIntegrity) || errors.Is(err, ErrRename) || errors.Is(err, ErrDiskSpace) {
		return false
	}
	// transport-level failures (resets, timeouts) are worth another try
	return true
}

// attempt performs one GET and publishes the body atomically on success.
func (e *Engine) attempt(ctx context.Context, url, dest string) (int64, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return 0, ErrCancelled
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ErrCancelled
		}
		return 0, fmt.Errorf("request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &statusError{code: resp.StatusCode}
	}

	tmp, err := e.temps.create(filepath.Dir(dest))
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()

	written, copyErr := e.copyChunks(ctx, tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		e.temps.discard(tmpPath)
		return 0, copyErr
	}
	if closeErr != nil {
		e.temps.discard(tmpPath)
		return 0, fmt.Errorf("close temp file: %w", closeErr)
	}

	// validate before publication: a truncated body must never reach dest
	if err := validateAs(tmpPath, dest, e.minFileSize); err != nil {
		e.temps.discard(tmpPath)
		return 0, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		e.temps.discard(tmpPath)
		return 0, fmt.Errorf("%w: %v", ErrRename, err)
	}
	e.temps.release(tmpPath)
	return written, nil
}

// copyChunks streams the body checking cancellation on every chunk, so
// cancellation latency is bounded by one chunk rather than the transfer.
func (e *Engine) copyChunks(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if ctx.Err() != nil {
			return written, ErrCancelled
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return written, fmt.Errorf("write: %w", writeErr)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return written, ErrCancelled
			}
			return written, fmt.Errorf("read body: %w", readErr)
		}
	}
}

// validateAs validates the temp file using the destination's extension, since
// the temp name carries a .part suffix.
func validateAs(tmpPath, dest string, minSize int64) error {
	fi, err := os.Stat(tmpPath)
	if err != nil {
		return err
	}
	if fi.Size() < minSize {
		return fmt.Errorf("file too small: %d < %d bytes", fi.Size(), minSize)
	}
	if strings.EqualFold(filepath.Ext(dest), ".zip") {
		return validateZip(tmpPath)
	}
	return nil
}
