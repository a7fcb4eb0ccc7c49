package app

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/deemusic/deemusic-player/internal/resolver"
)

const defaultExtension = ".mp3"

// buildTrackPath expands the filename template for track under outputDir.
// A "/" in the template starts a subdirectory.
func buildTrackPath(outputDir, template string, track resolver.Track) string {
	if template == "" {
		template = "{artist} - {title}"
	}

	// Separators inside values must not start a directory
	field := strings.NewReplacer("/", "_", "\\", "_").Replace
	replacer := strings.NewReplacer(
		"{title}", field(track.Title),
		"{artist}", field(track.Artist),
		"{album}", field(track.Album),
		"{album_artist}", field(track.AlbumArtist),
		"{track_number}", fmt.Sprintf("%02d", track.TrackNumber),
		"{year}", fmt.Sprintf("%d", track.Year),
		"{id}", field(track.ID),
	)
	expanded := replacer.Replace(template)

	segments := strings.Split(expanded, "/")
	for i, s := range segments {
		segments[i] = sanitizeFilename(s)
	}

	return filepath.Join(outputDir, filepath.Join(segments...)) + extensionOf(track.SourceURI)
}

// urlPath returns the destination for a direct URL download
func urlPath(outputDir, rawURL string) string {
	name := displayNameOf(rawURL)
	ext := extensionOf(rawURL)
	name = strings.TrimSuffix(name, ext)
	return filepath.Join(outputDir, sanitizeFilename(name)) + ext
}

// disambiguate inserts a short digest of source before the extension of
// dest. The digest is stable so a source always maps to the same file.
func disambiguate(dest, source string) string {
	sum := blake2b.Sum256([]byte(source))
	ext := filepath.Ext(dest)
	return strings.TrimSuffix(dest, ext) + " (" + hex.EncodeToString(sum[:4]) + ")" + ext
}

// displayNameOf returns the last path element of rawURL
func displayNameOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return rawURL
}

// extensionOf returns the file extension of the URL path, or .mp3
func extensionOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultExtension
	}
	ext := strings.ToLower(path.Ext(u.Path))
	switch ext {
	case ".mp3", ".flac", ".m4a", ".ogg":
		return ext
	default:
		return defaultExtension
	}
}

func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		"\x00", "",
	)

	sanitized := replacer.Replace(name)

	// Remove leading/trailing spaces and dots
	sanitized = strings.TrimSpace(sanitized)
	sanitized = strings.Trim(sanitized, ".")

	if sanitized == "" {
		sanitized = "unknown"
	}

	if r := []rune(sanitized); len(r) > 200 {
		sanitized = string(r[:200])
	}

	return sanitized
}
