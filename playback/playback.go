package playback

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	caterrs "github.com/livepeer/catalyst-audio/errors"
)

type Response struct {
	Body        *os.File
	ContentType string
	ModTime     time.Time
	Size        int64
}

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".mp4":  "audio/mp4",
	".m4s":  "audio/mp4",
	".ts":   "video/mp2t",
}

// Segment opens a segment file for serving. The caller closes Body.
func Segment(path string) (*Response, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, caterrs.NewSegmentNotFoundError(filepath.Base(path), err)
		}
		return nil, fmt.Errorf("failed to open segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat segment: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, caterrs.NewSegmentNotFoundError(filepath.Base(path), nil)
	}
	return &Response{
		Body:        f,
		ContentType: ContentType(path),
		ModTime:     info.ModTime(),
		Size:        info.Size(),
	}, nil
}

func ContentType(file string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(file))]; ok {
		return ct
	}
	return "application/octet-stream"
}
