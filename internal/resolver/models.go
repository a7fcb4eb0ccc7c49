package resolver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// apiTrack is the track object of the public catalog API
type apiTrack struct {
	ID            FlexibleID `json:"id"`
	Title         string     `json:"title"`
	Link          string     `json:"link"`
	Duration      int        `json:"duration"`
	TrackPosition int        `json:"track_position"`
	DiscNumber    int        `json:"disk_number"`
	PreviewURL    string     `json:"preview"`
	ReleaseDate   string     `json:"release_date"`
	Readable      *bool      `json:"readable"`
	Artist        *apiArtist `json:"artist"`
	Album         *apiAlbum  `json:"album"`
	Error         *apiError  `json:"error"`
}

type apiAlbum struct {
	ID          FlexibleID `json:"id"`
	Title       string     `json:"title"`
	CoverBig    string     `json:"cover_big"`
	CoverXL     string     `json:"cover_xl"`
	ReleaseDate string     `json:"release_date"`
	Artist      *apiArtist `json:"artist"`
}

type apiArtist struct {
	ID   FlexibleID `json:"id"`
	Name string     `json:"name"`
}

// apiError is returned with status 200 for unknown objects and quota errors
type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// API error codes
const (
	codeQuotaExceeded = 4
	codeDataNotFound  = 800
)

// FlexibleID unmarshals from both string and number JSON values
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexibleID(n.String())
		return nil
	}

	return fmt.Errorf("FlexibleID must be a string or number")
}

// String returns the string representation
func (f FlexibleID) String() string {
	return string(f)
}

// year extracts the year from a YYYY-MM-DD date
func year(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}

// ParseReference accepts a bare track ID, "track:<id>" or a catalog track
// URL and returns the numeric ID.
func ParseReference(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if i := strings.Index(ref, "/track/"); i >= 0 {
		ref = ref[i+len("/track/"):]
		if j := strings.IndexAny(ref, "?#/"); j >= 0 {
			ref = ref[:j]
		}
	}
	ref = strings.TrimPrefix(ref, "track:")

	if ref == "" {
		return "", false
	}
	if _, err := strconv.ParseUint(ref, 10, 64); err != nil {
		return "", false
	}
	return ref, true
}
