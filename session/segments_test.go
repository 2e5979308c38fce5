package session

import (
	"testing"

	caterrs "github.com/livepeer/catalyst-audio/errors"
	"github.com/stretchr/testify/require"
)

func TestResolveSegmentPath(t *testing.T) {
	s := &Session{AssetDir: "/var/cache/segments/v1-abc"}

	for _, name := range []string{"init.mp4", "chunk-00000.m4s", "chunk-123456.m4s", "chunk-00012.ts"} {
		p, err := ResolveSegmentPath(s, name)
		require.NoError(t, err, name)
		require.Equal(t, "/var/cache/segments/v1-abc/"+name, p)
	}

	for _, name := range []string{
		"",
		"../secret.m4s",
		"../../etc/passwd",
		"/etc/passwd",
		"chunk-0001.m4s",
		"chunk-00001.mp4",
		"chunk-00001.m4s/../../x",
		"sub/chunk-00001.m4s",
		"init.mp4.bak",
		"index.m3u8",
		".index.m3u8",
	} {
		_, err := ResolveSegmentPath(s, name)
		require.True(t, caterrs.IsCode(err, caterrs.SegmentNotFound), name)
	}
}

func TestResolveSegmentPathWithoutAssetDir(t *testing.T) {
	_, err := ResolveSegmentPath(&Session{}, "init.mp4")
	require.True(t, caterrs.IsCode(err, caterrs.SegmentNotFound))
}
