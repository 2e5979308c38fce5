package playback

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	caterrs "github.com/livepeer/catalyst-audio/errors"
	"github.com/stretchr/testify/require"
)

const sourceManifest = `#EXTM3U
#EXT-X-VERSION:7
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PLAYLIST-TYPE:EVENT
#EXT-X-MAP:URI="init.mp4"
#EXTINF:4.000000,
chunk-00000.m4s
#EXTINF:4.000000,
chunk-00001.m4s
`

func writeManifest(t *testing.T, content string) string {
	p := filepath.Join(t.TempDir(), "index.m3u8")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestManifest(t *testing.T) {
	tests := []struct {
		name        string
		manifest    string
		req         ManifestRequest
		contains    []string
		notContains []string
		expectedErr string
	}{
		{
			name:     "segments and init point at the segment route",
			manifest: sourceManifest,
			req:      ManifestRequest{SegmentPrefix: "segments", Token: "abc.def"},
			contains: []string{
				`#EXT-X-MAP:URI="segments/init.mp4?token=abc.def"`,
				"segments/chunk-00000.m4s?token=abc.def",
				"segments/chunk-00001.m4s?token=abc.def",
				"#EXT-X-PLAYLIST-TYPE:EVENT",
			},
			notContains: []string{"#EXT-X-ENDLIST"},
		},
		{
			name:     "finished playlists stay closed",
			manifest: sourceManifest + "#EXT-X-ENDLIST\n",
			req:      ManifestRequest{SegmentPrefix: "segments", Token: "tkn"},
			contains: []string{"#EXT-X-ENDLIST", "segments/chunk-00001.m4s?token=tkn"},
		},
		{
			name:        "master playlists are rejected",
			manifest:    "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000\nlow/index.m3u8\n",
			req:         ManifestRequest{Token: "tkn"},
			expectedErr: "expected a media playlist",
		},
		{
			name:        "invalid m3u8",
			manifest:    "not a playlist",
			req:         ManifestRequest{Token: "tkn"},
			expectedErr: "failed to read manifest contents",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.ManifestPath = writeManifest(t, tt.manifest)
			got, err := Manifest(tt.req)
			if tt.expectedErr != "" {
				require.ErrorContains(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			gotBytes, err := io.ReadAll(got)
			require.NoError(t, err)
			out := string(gotBytes)
			for _, c := range tt.contains {
				require.Contains(t, out, c)
			}
			for _, c := range tt.notContains {
				require.NotContains(t, out, c)
			}
			require.LessOrEqual(t, strings.Count(out, "init.mp4"), 1)
		})
	}
}

func TestManifestMissingFile(t *testing.T) {
	_, err := Manifest(ManifestRequest{ManifestPath: filepath.Join(t.TempDir(), "index.m3u8")})
	require.True(t, caterrs.IsCode(err, caterrs.SegmentNotFound))
}

func TestSegment(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "chunk-00000.m4s")
	require.NoError(t, os.WriteFile(p, []byte("moof"), 0644))

	resp, err := Segment(p)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "audio/mp4", resp.ContentType)
	require.Equal(t, int64(4), resp.Size)

	_, err = Segment(filepath.Join(dir, "chunk-00001.m4s"))
	require.True(t, caterrs.IsCode(err, caterrs.SegmentNotFound))

	_, err = Segment(dir)
	require.True(t, caterrs.IsCode(err, caterrs.SegmentNotFound))
}

func TestContentType(t *testing.T) {
	require.Equal(t, "application/vnd.apple.mpegurl", ContentType("index.m3u8"))
	require.Equal(t, "video/mp2t", ContentType("chunk-00001.ts"))
	require.Equal(t, "audio/mp4", ContentType("init.mp4"))
	require.Equal(t, "application/octet-stream", ContentType("cover.jpg"))
}
