package playback

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"

	"github.com/grafov/m3u8"
	caterrs "github.com/livepeer/catalyst-audio/errors"
)

const TokenParam = "token"

type ManifestRequest struct {
	RequestID    string
	ManifestPath string
	// Joined onto every relative segment URI
	SegmentPrefix string
	Token         string
}

// Manifest reads a media playlist from disk and points every segment, init segment included, at
// the session's segment route with the session token attached
func Manifest(req ManifestRequest) (io.Reader, error) {
	f, err := os.Open(req.ManifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, caterrs.NewSegmentNotFoundError(path.Base(req.ManifestPath), err)
		}
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	p, listType, err := m3u8.DecodeFrom(f, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest contents: %w", err)
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("failed to read manifest contents: expected a media playlist")
	}
	mediaPl := p.(*m3u8.MediaPlaylist)

	rewritten := map[*m3u8.Map]bool{}
	rewriteMap := func(m *m3u8.Map) error {
		if m == nil || rewritten[m] {
			return nil
		}
		rewritten[m] = true
		m.URI, err = req.rewrite(m.URI)
		return err
	}
	if err := rewriteMap(mediaPl.Map); err != nil {
		return nil, err
	}
	for _, segment := range mediaPl.Segments {
		if segment == nil {
			break
		}
		if err := rewriteMap(segment.Map); err != nil {
			return nil, err
		}
		segment.URI, err = req.rewrite(segment.URI)
		if err != nil {
			return nil, err
		}
	}
	return mediaPl.Encode(), nil
}

func (req ManifestRequest) rewrite(uri string) (string, error) {
	uri, err := appendToken(uri, req.Token)
	if err != nil {
		return "", err
	}
	if path.IsAbs(uri) || req.SegmentPrefix == "" {
		return uri, nil
	}
	return path.Join(req.SegmentPrefix, uri), nil
}

func appendToken(uri, token string) (string, error) {
	segmentURI, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("failed to parse segment uri: %w", err)
	}
	queryParams := segmentURI.Query()
	queryParams.Set(TokenParam, token)
	segmentURI.RawQuery = queryParams.Encode()
	return segmentURI.String(), nil
}
