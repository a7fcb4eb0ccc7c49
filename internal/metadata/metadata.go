package metadata

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	"go.uber.org/zap"

	apperrors "github.com/deemusic/deemusic-player/internal/errors"
	"github.com/deemusic/deemusic-player/internal/monitoring"
	"github.com/deemusic/deemusic-player/internal/transfer"
)

// Manager writes tags into finished downloads
type Manager struct {
	config  *Config
	artwork *ArtworkFetcher
	logger  *zap.Logger
}

// Config contains metadata configuration
type Config struct {
	EmbedArtwork bool
	ArtworkSize  int
}

// TrackMetadata contains the tags written to a file
type TrackMetadata struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	TrackNumber int
	Year        int
	Genre       string
	ArtworkData []byte
	ArtworkMIME string
}

// NewManager creates a new metadata manager. artwork may be nil, in which
// case covers are never embedded.
func NewManager(config *Config, artwork *ArtworkFetcher, logger *zap.Logger) *Manager {
	if config == nil {
		config = &Config{
			EmbedArtwork: true,
			ArtworkSize:  1200,
		}
	}
	return &Manager{
		config:  config,
		artwork: artwork,
		logger:  monitoring.Component(logger, "metadata"),
	}
}

// Tag implements transfer.Tagger. A cover that cannot be fetched is logged
// and skipped; the text tags are still written.
func (m *Manager) Tag(ctx context.Context, path string, tags transfer.Tags) error {
	md := &TrackMetadata{
		Title:       tags.Title,
		Artist:      tags.Artist,
		Album:       tags.Album,
		AlbumArtist: tags.AlbumArtist,
		TrackNumber: tags.TrackNumber,
		Year:        tags.Year,
		Genre:       tags.Genre,
	}

	if m.config.EmbedArtwork && m.artwork != nil && tags.CoverURL != "" {
		data, mime, err := m.artwork.Fetch(ctx, tags.CoverURL, m.config.ArtworkSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("Skipping cover art",
				zap.String("path", path),
				zap.String("cover", tags.CoverURL),
				zap.Error(err))
		} else {
			md.ArtworkData = data
			md.ArtworkMIME = mime
		}
	}

	if err := m.ApplyMetadata(path, md); err != nil {
		return apperrors.NewProcessingError("failed to write tags", err)
	}
	return nil
}

// ApplyMetadata applies metadata to an audio file (MP3 or FLAC)
func (m *Manager) ApplyMetadata(filePath string, metadata *TrackMetadata) error {
	if metadata == nil {
		return fmt.Errorf("metadata cannot be nil")
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp3":
		return m.applyMP3Metadata(filePath, metadata)
	case ".flac":
		return m.applyFLACMetadata(filePath, metadata)
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}
}

// applyMP3Metadata applies metadata to an MP3 file using ID3v2
func (m *Manager) applyMP3Metadata(filePath string, metadata *TrackMetadata) error {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	if metadata.Title != "" {
		tag.SetTitle(metadata.Title)
	}
	if metadata.Artist != "" {
		tag.SetArtist(metadata.Artist)
	}
	if metadata.Album != "" {
		tag.SetAlbum(metadata.Album)
	}
	if metadata.Genre != "" {
		tag.SetGenre(metadata.Genre)
	}
	if metadata.Year > 0 {
		tag.SetYear(strconv.Itoa(metadata.Year))
	}

	// Album artist lives in TPE2
	if metadata.AlbumArtist != "" {
		tag.DeleteFrames("TPE2")
		tag.AddTextFrame("TPE2", id3v2.EncodingUTF8, metadata.AlbumArtist)
	}

	if metadata.TrackNumber > 0 {
		trackID := tag.CommonID("Track number/Position in set")
		tag.DeleteFrames(trackID)
		tag.AddTextFrame(trackID, id3v2.EncodingUTF8, strconv.Itoa(metadata.TrackNumber))
	}

	if len(metadata.ArtworkData) > 0 {
		tag.DeleteFrames(tag.CommonID("Attached picture"))
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    mimeOrDefault(metadata.ArtworkMIME),
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     metadata.ArtworkData,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save MP3 metadata: %w", err)
	}

	return nil
}

// applyFLACMetadata applies metadata to a FLAC file using Vorbis comments
func (m *Manager) applyFLACMetadata(filePath string, metadata *TrackMetadata) error {
	f, err := parseFLAC(filePath)
	if err != nil {
		return fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	// Existing comments are replaced, pictures are replaced when we have one
	kept := make([]*flac.MetaDataBlock, 0, len(f.Meta)+2)
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			continue
		}
		if block.Type == flac.Picture && len(metadata.ArtworkData) > 0 {
			continue
		}
		kept = append(kept, block)
	}

	cmt := flacvorbis.New()
	add := func(field, value string) {
		if value != "" {
			cmt.Add(field, value)
		}
	}
	add("TITLE", metadata.Title)
	add("ARTIST", metadata.Artist)
	add("ALBUM", metadata.Album)
	add("ALBUMARTIST", metadata.AlbumArtist)
	add("GENRE", metadata.Genre)
	if metadata.Year > 0 {
		add("DATE", strconv.Itoa(metadata.Year))
	}
	if metadata.TrackNumber > 0 {
		add("TRACKNUMBER", strconv.Itoa(metadata.TrackNumber))
	}

	cmtBlock := cmt.Marshal()
	kept = append(kept, &cmtBlock)

	if len(metadata.ArtworkData) > 0 {
		kept = append(kept, &flac.MetaDataBlock{
			Type: flac.Picture,
			Data: pictureBlock(metadata.ArtworkData, mimeOrDefault(metadata.ArtworkMIME)),
		})
	}
	f.Meta = kept

	if err := f.Save(filePath); err != nil {
		return fmt.Errorf("failed to save FLAC file: %w", err)
	}

	return nil
}

// parseFLAC reads the metadata blocks and the frame data of a FLAC file.
// A stream whose frames are missing or lack the sync code is rejected
// before any library code indexes into it.
func parseFLAC(path string) (*flac.File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	f, err := flac.ParseMetadata(fh)
	if err != nil {
		return nil, err
	}
	frames, err := io.ReadAll(fh)
	if err != nil {
		return nil, err
	}
	if len(frames) < 2 || frames[0] != 0xFF || frames[1]>>2 != 0x3E {
		return nil, flac.ErrorNoSyncCode
	}
	f.Frames = frames
	return f, nil
}

// pictureBlock encodes a FLAC PICTURE block body for a front cover:
// type, MIME, description, width, height, depth, colors, data.
// Dimensions are left zero for the decoder to determine.
func pictureBlock(imageData []byte, mimeType string) []byte {
	description := "Front Cover"

	size := 4 + 4 + len(mimeType) + 4 + len(description) + 4*4 + 4 + len(imageData)
	data := make([]byte, size)
	pos := 0

	writeUint32BE(data[pos:], 3)
	pos += 4

	writeUint32BE(data[pos:], uint32(len(mimeType)))
	pos += 4
	copy(data[pos:], mimeType)
	pos += len(mimeType)

	writeUint32BE(data[pos:], uint32(len(description)))
	pos += 4
	copy(data[pos:], description)
	pos += len(description)

	// width, height, depth, colors
	pos += 4 * 4

	writeUint32BE(data[pos:], uint32(len(imageData)))
	pos += 4
	copy(data[pos:], imageData)

	return data
}

// writeUint32BE writes a uint32 in big-endian format
func writeUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func mimeOrDefault(mime string) string {
	if mime == "" {
		return "image/jpeg"
	}
	return mime
}

// GetMetadata reads the tags written by ApplyMetadata
func (m *Manager) GetMetadata(filePath string) (*TrackMetadata, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp3":
		return m.getMP3Metadata(filePath)
	case ".flac":
		return m.getFLACMetadata(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

// getMP3Metadata reads metadata from an MP3 file
func (m *Manager) getMP3Metadata(filePath string) (*TrackMetadata, error) {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	metadata := &TrackMetadata{
		Title:  tag.Title(),
		Artist: tag.Artist(),
		Album:  tag.Album(),
		Genre:  tag.Genre(),
	}

	if year, err := strconv.Atoi(tag.Year()); err == nil {
		metadata.Year = year
	}

	if frames := tag.GetFrames("TPE2"); len(frames) > 0 {
		if tf, ok := frames[0].(id3v2.TextFrame); ok {
			metadata.AlbumArtist = tf.Text
		}
	}

	if frames := tag.GetFrames(tag.CommonID("Track number/Position in set")); len(frames) > 0 {
		if tf, ok := frames[0].(id3v2.TextFrame); ok {
			if n, err := strconv.Atoi(strings.Split(tf.Text, "/")[0]); err == nil {
				metadata.TrackNumber = n
			}
		}
	}

	if pictures := tag.GetFrames(tag.CommonID("Attached picture")); len(pictures) > 0 {
		if pic, ok := pictures[0].(id3v2.PictureFrame); ok {
			metadata.ArtworkData = pic.Picture
			metadata.ArtworkMIME = pic.MimeType
		}
	}

	return metadata, nil
}

// getFLACMetadata reads metadata from a FLAC file
func (m *Manager) getFLACMetadata(filePath string) (*TrackMetadata, error) {
	f, err := parseFLAC(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	metadata := &TrackMetadata{}
	for _, block := range f.Meta {
		switch block.Type {
		case flac.VorbisComment:
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				continue
			}
			first := func(field string) string {
				if values, err := cmt.Get(field); err == nil && len(values) > 0 {
					return values[0]
				}
				return ""
			}
			metadata.Title = first("TITLE")
			metadata.Artist = first("ARTIST")
			metadata.Album = first("ALBUM")
			metadata.AlbumArtist = first("ALBUMARTIST")
			metadata.Genre = first("GENRE")
			if year, err := strconv.Atoi(first("DATE")); err == nil {
				metadata.Year = year
			}
			if n, err := strconv.Atoi(first("TRACKNUMBER")); err == nil {
				metadata.TrackNumber = n
			}
		}
	}

	return metadata, nil
}
