// Package transcode converts finished downloads to the configured audio
// format with an external ffmpeg binary.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/deemusic/deemusic-player/internal/errors"
	"github.com/deemusic/deemusic-player/internal/monitoring"
)

// codecArgs are the encoder arguments per output format
var codecArgs = map[string][]string{
	"mp3":  {"-c:a", "libmp3lame", "-q:a", "0"},
	"flac": {"-c:a", "flac"},
	"m4a":  {"-c:a", "aac", "-b:a", "256k"},
	"ogg":  {"-c:a", "libvorbis", "-q:a", "8"},
}

// FFmpegTranscoder implements transfer.Transcoder
type FFmpegTranscoder struct {
	ffmpegPath string
	format     string
	logger     *zap.Logger
}

// NewFFmpegTranscoder creates a transcoder that writes files in format
func NewFFmpegTranscoder(ffmpegPath, format string, logger *zap.Logger) (*FFmpegTranscoder, error) {
	format = strings.ToLower(format)
	if _, ok := codecArgs[format]; !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported transcode format: %s", format))
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegTranscoder{
		ffmpegPath: ffmpegPath,
		format:     format,
		logger:     monitoring.Component(logger, "transcode"),
	}, nil
}

// Format returns the output format
func (t *FFmpegTranscoder) Format() string {
	return t.format
}

// Transcode converts input and returns the path of the converted file. A file
// already in the target format is returned unchanged.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, input string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(input)), ".")
	if ext == t.format {
		return input, nil
	}

	output := strings.TrimSuffix(input, filepath.Ext(input)) + "." + t.format
	temp := output + ".tmp." + t.format

	cmd := exec.CommandContext(ctx, t.ffmpegPath, t.BuildArgs(input, temp)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	t.logger.Debug("Starting ffmpeg",
		zap.String("input", input),
		zap.String("format", t.format))

	if err := cmd.Run(); err != nil {
		os.Remove(temp)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.logger.Warn("ffmpeg failed",
			zap.String("input", input),
			zap.String("stderr", lastLine(stderr.String())),
			zap.Error(err))
		return "", apperrors.NewProcessingError("transcoding failed", err)
	}

	if err := os.Rename(temp, output); err != nil {
		os.Remove(temp)
		return "", apperrors.NewFileSystemError("failed to move transcoded file", err)
	}

	return output, nil
}

// BuildArgs returns the ffmpeg arguments for one conversion
func (t *FFmpegTranscoder) BuildArgs(input, output string) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-map", "0:a",
	}
	args = append(args, codecArgs[t.format]...)
	return append(args, output)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
