package transfer

import "context"

// Request describes one transport operation
type Request struct {
	URL         string
	Destination string
	PartialPath string
	Progress    func(done, total int64)
}

// Operation is a running transport operation
type Operation interface {
	Pause()
	Resume()
	// Wait blocks until the transfer ends and returns the bytes on disk.
	Wait(ctx context.Context) (int64, error)
}

// Transport starts a new operation for a request, or re-attaches to the one
// already fetching the same URL into the same destination.
type Transport interface {
	Start(ctx context.Context, req Request) (Operation, error)
}

// Transcoder converts a finished download and returns the path of the result.
// It removes its own partial output on failure.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath string) (string, error)
}

// Tagger writes metadata tags into a finished file
type Tagger interface {
	Tag(ctx context.Context, path string, tags Tags) error
}

// Tags is the metadata written during the WritingTag step
type Tags struct {
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	AlbumArtist string `json:"album_artist,omitempty"`
	TrackNumber int    `json:"track_number,omitempty"`
	Year        int    `json:"year,omitempty"`
	Genre       string `json:"genre,omitempty"`
	CoverURL    string `json:"cover_url,omitempty"`
}

// IsZero reports whether there is nothing to write
func (t Tags) IsZero() bool {
	return t == Tags{}
}
