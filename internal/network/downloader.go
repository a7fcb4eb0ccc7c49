package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/deemusic/deemusic-player/internal/errors"
	"github.com/deemusic/deemusic-player/internal/monitoring"
	"github.com/deemusic/deemusic-player/internal/transfer"
)

const (
	chunkSize  = 32 * 1024
	bufferSize = 256 * 1024
)

// StatusError is a non-2xx response from the download server
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download of %s failed with status %d", e.URL, e.Code)
}

// HTTPStatus returns the response status code
func (e *StatusError) HTTPStatus() int {
	return e.Code
}

// Downloader streams HTTP resources to disk. A request for a URL that is
// already downloading to the same destination attaches to the running
// download instead of starting a second one. A different URL aimed at a
// busy destination is refused.
type Downloader struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	mu     sync.Mutex
	active map[string]*download // by destination
}

// NewDownloader creates a downloader. bandwidthKBps caps the combined read
// rate of all downloads; zero means unlimited.
func NewDownloader(client *http.Client, bandwidthKBps int, logger *zap.Logger) *Downloader {
	if client == nil {
		client = NewDownloadClient(nil)
	}
	return &Downloader{
		client:  client,
		limiter: rate.NewLimiter(bandwidthLimit(bandwidthKBps), chunkSize),
		logger:  monitoring.Component(logger, "downloader"),
		active:  make(map[string]*download),
	}
}

func bandwidthLimit(kbps int) rate.Limit {
	if kbps <= 0 {
		return rate.Inf
	}
	return rate.Limit(kbps * 1024)
}

// SetBandwidthLimit changes the combined read cap, running downloads
// included. Zero removes the cap.
func (d *Downloader) SetBandwidthLimit(kbps int) {
	d.limiter.SetLimit(bandwidthLimit(kbps))
	d.logger.Info("Bandwidth limit updated", zap.Int("kbps", kbps))
}

// BandwidthLimit returns the current cap in KB/s, zero when unlimited
func (d *Downloader) BandwidthLimit() int {
	limit := d.limiter.Limit()
	if limit == rate.Inf {
		return 0
	}
	return int(limit) / 1024
}

// Start implements transfer.Transport
func (d *Downloader) Start(ctx context.Context, req transfer.Request) (transfer.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if dl, ok := d.active[req.Destination]; ok {
		if dl.req.URL != req.URL {
			return nil, apperrors.NewValidationError(fmt.Sprintf("destination %s is already being written from %s", req.Destination, dl.req.URL))
		}
		dl.attach(req.Progress)
		d.logger.Debug("Attached to running download",
			zap.String("url", req.URL),
			zap.String("destination", req.Destination))
		return &attachment{dl: dl}, nil
	}

	dlCtx, cancel := context.WithCancel(context.Background())
	dl := &download{
		d:      d,
		req:    req,
		ctx:    dlCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		gate:   newGate(),
	}
	dl.attach(req.Progress)
	d.active[req.Destination] = dl

	go dl.run()
	return &attachment{dl: dl}, nil
}

// ActiveCount returns the number of running downloads
func (d *Downloader) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

func (d *Downloader) forget(dl *download) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active[dl.req.Destination] == dl {
		delete(d.active, dl.req.Destination)
	}
}

type download struct {
	d      *Downloader
	req    transfer.Request
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	gate   *gate

	mu        sync.Mutex
	listeners []func(done, total int64)
	waiters   int
	written   int64
	err       error
}

func (dl *download) attach(progress func(done, total int64)) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.waiters++
	if progress != nil {
		dl.listeners = append(dl.listeners, progress)
	}
}

// detach drops one waiter. The last one to leave stops the download and
// waits for it so the partial file is no longer being written.
func (dl *download) detach() {
	dl.mu.Lock()
	dl.waiters--
	last := dl.waiters == 0
	dl.mu.Unlock()

	if last {
		dl.cancel()
		<-dl.done
	}
}

func (dl *download) report(done, total int64) {
	dl.mu.Lock()
	dl.written = done
	listeners := dl.listeners
	dl.mu.Unlock()

	for _, fn := range listeners {
		fn(done, total)
	}
}

func (dl *download) run() {
	defer close(dl.done)
	defer dl.d.forget(dl)

	err := dl.fetch()

	dl.mu.Lock()
	dl.err = err
	dl.mu.Unlock()
}

func (dl *download) fetch() error {
	req := dl.req

	// A partial file left by an interrupted run is continued with a Range request
	var offset int64
	if info, err := os.Stat(req.PartialPath); err == nil && info.Size() > 0 {
		offset = info.Size()
	}

	resp, offset, total, err := dl.open(offset)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if offset > 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	file, err := os.OpenFile(req.PartialPath, flags, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	if offset > 0 {
		dl.d.logger.Info("Resuming partial download",
			zap.String("url", req.URL),
			zap.Int64("offset", offset))
	}

	writer := bufio.NewWriterSize(file, bufferSize)
	buffer := make([]byte, chunkSize)
	written := offset
	dl.report(written, total)

	for {
		if err := dl.gate.wait(dl.ctx); err != nil {
			writer.Flush()
			return err
		}

		n, readErr := resp.Body.Read(buffer)
		if n > 0 {
			if err := dl.d.limiter.WaitN(dl.ctx, n); err != nil {
				writer.Flush()
				return err
			}
			if _, err := writer.Write(buffer[:n]); err != nil {
				return err
			}
			written += int64(n)
			dl.report(written, total)
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			writer.Flush()
			if dl.ctx.Err() != nil {
				return dl.ctx.Err()
			}
			return readErr
		}
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	if total > 0 && written < total {
		return fmt.Errorf("received %d of %d bytes: %w", written, total, io.ErrUnexpectedEOF)
	}
	return nil
}

// open sends the request and decides where writing starts. A partial is
// only continued when the server answers 206 with a Content-Range that
// starts at offset and whose total is larger than what is already on disk.
// Any other answer to a range request starts over from zero.
func (dl *download) open(offset int64) (resp *http.Response, start, total int64, err error) {
	req := dl.req

	httpReq, err := http.NewRequestWithContext(dl.ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err = dl.d.client.Do(httpReq)
	if err != nil {
		return nil, 0, 0, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if resp.ContentLength >= 0 {
			total = resp.ContentLength
		}
		return resp, 0, total, nil
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
		first, size, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if ok && first == offset && (size < 0 || size > offset) {
			if size < 0 && resp.ContentLength >= 0 {
				size = resp.ContentLength + offset
			}
			return resp, offset, max(size, 0), nil
		}
	case offset > 0 && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
	default:
		resp.Body.Close()
		return nil, 0, 0, &StatusError{Code: resp.StatusCode, URL: req.URL}
	}

	resp.Body.Close()
	dl.d.logger.Warn("Discarding partial download that does not match the server copy",
		zap.String("url", req.URL),
		zap.Int64("offset", offset),
		zap.Int("status", resp.StatusCode),
		zap.String("content_range", resp.Header.Get("Content-Range")))
	return dl.open(0)
}

// parseContentRange reads "bytes first-last/size". size is -1 when the
// server sends "*".
func parseContentRange(header string) (first, size int64, ok bool) {
	spec, found := strings.CutPrefix(header, "bytes ")
	if !found {
		return 0, 0, false
	}
	span, length, found := strings.Cut(spec, "/")
	if !found {
		return 0, 0, false
	}
	from, to, found := strings.Cut(span, "-")
	if !found {
		return 0, 0, false
	}
	first, err := strconv.ParseInt(from, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	last, err := strconv.ParseInt(to, 10, 64)
	if err != nil || last < first {
		return 0, 0, false
	}
	if length == "*" {
		return first, -1, true
	}
	size, err = strconv.ParseInt(length, 10, 64)
	if err != nil || size <= last {
		return 0, 0, false
	}
	return first, size, true
}

// attachment is one waiter's handle on a shared download
type attachment struct {
	dl   *download
	once sync.Once
}

func (a *attachment) Pause() {
	a.dl.gate.pause()
}

func (a *attachment) Resume() {
	a.dl.gate.resume()
}

// Wait returns when the download ends or ctx is done. A waiter that gives
// up is detached; the download stops once nobody waits for it.
func (a *attachment) Wait(ctx context.Context) (int64, error) {
	defer a.once.Do(a.dl.detach)

	select {
	case <-a.dl.done:
		a.dl.mu.Lock()
		defer a.dl.mu.Unlock()
		return a.dl.written, a.dl.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// gate blocks the read loop while a download is paused
type gate struct {
	mu     sync.Mutex
	open   chan struct{}
	paused bool
}

func newGate() *gate {
	ch := make(chan struct{})
	close(ch)
	return &gate{open: ch}
}

func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.open = make(chan struct{})
	}
}

func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.open)
	}
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	open := g.open
	g.mu.Unlock()

	select {
	case <-open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
