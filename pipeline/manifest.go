package pipeline

import (
	"fmt"
	"os"

	"github.com/grafov/m3u8"
)

// ReadMediaPlaylist decodes the HLS media playlist at path
func ReadMediaPlaylist(path string) (*m3u8.MediaPlaylist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	playlist, playlistType, err := m3u8.DecodeFrom(f, true)
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	if playlistType != m3u8.MEDIA {
		return nil, fmt.Errorf("manifest %s is not a media playlist", path)
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("manifest %s could not be read as a media playlist", path)
	}
	return media, nil
}

// Segments returns the non-nil segments of a media playlist in order
func Segments(p *m3u8.MediaPlaylist) []*m3u8.MediaSegment {
	var segments []*m3u8.MediaSegment
	for _, s := range p.Segments {
		if s != nil {
			segments = append(segments, s)
		}
	}
	return segments
}

// IsCompleteManifest reports whether the manifest at path is a finished playlist
func IsCompleteManifest(path string) bool {
	p, err := ReadMediaPlaylist(path)
	if err != nil {
		return false
	}
	return p.Closed && len(Segments(p)) > 0
}

// InitSegmentURI returns the EXT-X-MAP URI of a playlist, or "" for playlists without one
func InitSegmentURI(p *m3u8.MediaPlaylist) string {
	if p.Map != nil && p.Map.URI != "" {
		return p.Map.URI
	}
	for _, s := range Segments(p) {
		if s.Map != nil && s.Map.URI != "" {
			return s.Map.URI
		}
	}
	return ""
}
