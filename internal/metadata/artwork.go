package metadata

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nfnt/resize"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/deemusic/deemusic-player/internal/keylock"
	"github.com/deemusic/deemusic-player/internal/monitoring"
)

// maxArtworkBytes bounds a single cover download
const maxArtworkBytes = 20 << 20

// ArtworkFetcher downloads cover images into a disk cache. At most limit
// fetches run at once, and concurrent requests for the same cover wait for
// the first one instead of downloading it again.
type ArtworkFetcher struct {
	cacheDir   string
	httpClient *http.Client
	admission  chan struct{}
	locks      *keylock.Registry[string]
	logger     *zap.Logger
}

// NewArtworkFetcher creates a fetcher caching under cacheDir
func NewArtworkFetcher(cacheDir string, limit int, client *http.Client, logger *zap.Logger) (*ArtworkFetcher, error) {
	if cacheDir == "" {
		return nil, fmt.Errorf("cache directory cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	if client == nil {
		client = http.DefaultClient
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &ArtworkFetcher{
		cacheDir:   cacheDir,
		httpClient: client,
		admission:  make(chan struct{}, limit),
		locks:      keylock.New[string](),
		logger:     monitoring.Component(logger, "artwork"),
	}, nil
}

// Fetch returns the cover at url scaled so its longer side is size pixels.
// A size of zero keeps the original dimensions.
func (a *ArtworkFetcher) Fetch(ctx context.Context, url string, size int) ([]byte, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("artwork URL cannot be empty")
	}

	key := cacheKey(url, size)
	cachePath := filepath.Join(a.cacheDir, key)

	var data []byte
	err := a.locks.Do(ctx, key, func() error {
		if cached, err := os.ReadFile(cachePath); err == nil {
			data = cached
			return nil
		}

		fetched, err := a.download(ctx, url)
		if err != nil {
			return err
		}

		if size > 0 {
			if resized, err := resizeImage(fetched, size); err == nil {
				fetched = resized
			} else {
				a.logger.Debug("Keeping original artwork size",
					zap.String("url", url),
					zap.Error(err))
			}
		}

		if err := saveToCache(cachePath, fetched); err != nil {
			a.logger.Warn("Failed to cache artwork",
				zap.String("url", url),
				zap.Error(err))
		}
		data = fetched
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	return data, http.DetectContentType(data), nil
}

// download holds an admission slot for the duration of the request
func (a *ArtworkFetcher) download(ctx context.Context, url string) ([]byte, error) {
	select {
	case a.admission <- struct{}{}:
		defer func() { <-a.admission }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create artwork request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download artwork: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download artwork: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtworkBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read artwork data: %w", err)
	}
	return data, nil
}

// cacheKey derives the cache file name from URL and size
func cacheKey(url string, size int) string {
	sum := blake2b.Sum256([]byte(url + "_" + strconv.Itoa(size)))
	return hex.EncodeToString(sum[:])
}

// saveToCache writes through a temporary file so readers never see a
// partial image
func saveToCache(cachePath string, data []byte) error {
	tempPath := cachePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	if err := os.Rename(tempPath, cachePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	return nil
}

// resizeImage scales an image so its longer side is targetSize, keeping the
// aspect ratio and the original encoding where possible
func resizeImage(imageData []byte, targetSize int) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if max(width, height) == targetSize {
		return imageData, nil
	}

	var resized image.Image
	if width > height {
		resized = resize.Resize(uint(targetSize), 0, img, resize.Lanczos3)
	} else {
		resized = resize.Resize(0, uint(targetSize), img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, resized)
	default:
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 95})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}

	return buf.Bytes(), nil
}

// ClearCache removes every cached cover
func (a *ArtworkFetcher) ClearCache() error {
	entries, err := os.ReadDir(a.cacheDir)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(a.cacheDir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove cache file: %w", err)
		}
	}

	return nil
}
