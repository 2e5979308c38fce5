package session

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"

	caterrs "github.com/livepeer/catalyst-audio/errors"
)

// Init segment and fMP4 or legacy MPEG-TS chunks. The manifest is only served by its own route,
// after the readiness gate and with tokens added to its URIs.
var segmentFilePattern = regexp.MustCompile(`^(init\.mp4|chunk-\d{5,}\.(m4s|ts))$`)

// ResolveSegmentPath maps a requested file name onto a path inside the session's asset directory.
// Only file names following the segment naming convention are accepted.
func ResolveSegmentPath(s *Session, fileName string) (string, error) {
	if !segmentFilePattern.MatchString(fileName) {
		return "", caterrs.NewSegmentNotFoundError(fileName, errors.New("file name does not match segment naming"))
	}
	if s.AssetDir == "" {
		return "", caterrs.NewSegmentNotFoundError(fileName, errors.New("session has no asset directory"))
	}
	dir := filepath.Clean(s.AssetDir)
	path := filepath.Join(dir, fileName)
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel != fileName || strings.HasPrefix(rel, "..") {
		return "", caterrs.NewSegmentNotFoundError(fileName, errors.New("path escapes asset directory"))
	}
	return path, nil
}

func IsLegacySegment(fileName string) bool {
	return strings.HasSuffix(fileName, ".ts")
}
