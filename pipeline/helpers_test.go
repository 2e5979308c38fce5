package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type segmenterFunc func(ctx context.Context, req BuildRequest) error

func (f segmenterFunc) Segment(ctx context.Context, req BuildRequest) error {
	return f(ctx, req)
}

const completeManifest = `#EXTM3U
#EXT-X-VERSION:7
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PLAYLIST-TYPE:EVENT
#EXT-X-MAP:URI="init.mp4"
#EXTINF:4.000000,
chunk-00000.m4s
#EXTINF:4.000000,
chunk-00001.m4s
#EXT-X-ENDLIST
`

// writeAsset writes a fMP4 asset into dir. Open assets are missing their ENDLIST tag.
func writeAsset(t *testing.T, dir string, complete bool) {
	require.NoError(t, os.MkdirAll(dir, 0755))
	manifest := completeManifest
	if !complete {
		manifest = strings.Replace(manifest, "#EXT-X-ENDLIST\n", "", 1)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte(manifest), 0644))
	for _, name := range []string{"init.mp4", "chunk-00000.m4s", "chunk-00001.m4s"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("data"), 0644))
	}
}
