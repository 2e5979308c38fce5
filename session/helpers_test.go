package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/livepeer/catalyst-audio/cache"
	"github.com/livepeer/catalyst-audio/catalog"
	"github.com/livepeer/catalyst-audio/config"
	caterrs "github.com/livepeer/catalyst-audio/errors"
	"github.com/livepeer/catalyst-audio/pipeline"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeCatalog struct {
	tracks      map[string]catalog.Track
	preferences map[string]string
}

func (c *fakeCatalog) GetTrack(_ context.Context, trackID string) (catalog.Track, error) {
	t, ok := c.tracks[trackID]
	if !ok {
		return catalog.Track{}, caterrs.NewTrackNotFoundError(trackID, nil)
	}
	return t, nil
}

func (c *fakeCatalog) DefaultQuality(_ context.Context, userID string) (string, error) {
	return c.preferences[userID], nil
}

type fakeInspector struct {
	lossless map[string]bool
}

func (i fakeInspector) Inspect(_ context.Context, path, _ string) (catalog.SourceFile, error) {
	lossless, ok := i.lossless[path]
	if !ok {
		return catalog.SourceFile{}, os.ErrNotExist
	}
	return catalog.SourceFile{Path: path, ModTime: testStart.Add(-time.Hour), Size: 1024, Lossless: lossless}, nil
}

type fakeAssets struct {
	mu       sync.Mutex
	store    *cache.Store
	inFlight bool
	failure  error
	requests []pipeline.BuildRequest
}

func (a *fakeAssets) GetOrCreateAsset(_ context.Context, cacheKey string, req pipeline.BuildRequest) (pipeline.AssetHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	req.CacheKey = cacheKey
	a.requests = append(a.requests, req)
	paths := a.store.ResolveAssetPaths(cacheKey)
	return pipeline.AssetHandle{
		CacheKey:      cacheKey,
		OutputDir:     paths.OutputDir,
		ManifestPath:  paths.ManifestPath,
		BuildInFlight: a.inFlight,
	}, nil
}

func (a *fakeAssets) HasInFlightBuild(_ context.Context, _ string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight
}

func (a *fakeAssets) GetBuildFailure(_ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failure
}

func (a *fakeAssets) set(inFlight bool, failure error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight = inFlight
	a.failure = failure
}

type registryFixture struct {
	registry *Registry
	clock    *config.SteppedTimestampGenerator
	cache    *cache.Store
	assets   *fakeAssets
	sessions *MemoryStore
	catalog  *fakeCatalog
}

func newRegistryFixture(t *testing.T, tokenTTL time.Duration) *registryFixture {
	clock := config.NewSteppedTimestampGenerator(testStart)
	cacheStore := cache.NewStore(cache.Config{Root: t.TempDir(), Clock: clock})
	f := &registryFixture{
		clock:    clock,
		cache:    cacheStore,
		assets:   &fakeAssets{store: cacheStore},
		sessions: NewMemoryStore(time.Minute),
		catalog: &fakeCatalog{
			tracks: map[string]catalog.Track{
				"flac-track": {ID: "flac-track", FilePath: "/music/a.flac", Codec: "flac"},
				"mp3-track":  {ID: "mp3-track", FilePath: "/music/b.mp3", Codec: "mp3"},
				"gone-track": {ID: "gone-track", FilePath: "/music/deleted.flac"},
			},
			preferences: map[string]string{},
		},
	}
	f.registry = NewRegistry(RegistryConfig{
		PublicURL:        "https://music.example.com/",
		SessionTTL:       2 * time.Minute,
		SchemaVersion:    1,
		SoftExpiryWindow: 10 * time.Minute,
		StartupWindow:    300 * time.Millisecond,
		PollInterval:     10 * time.Millisecond,
		RetryAfter:       1500 * time.Millisecond,
		LossyBitrateKbps: 320,
	},
		f.sessions,
		cacheStore,
		f.assets,
		f.catalog,
		fakeInspector{lossless: map[string]bool{"/music/a.flac": true, "/music/b.mp3": false}},
		NewTokenIssuer("test-secret", tokenTTL, clock),
		clock,
	)
	return f
}

func (f *registryFixture) create(t *testing.T, userID, trackID string) (Descriptor, *Session) {
	d, err := f.registry.CreateLocalSession(context.Background(), CreateRequest{RequestID: "req", UserID: userID, TrackID: trackID})
	require.NoError(t, err)
	s, err := f.registry.GetAuthorizedSession(context.Background(), d.SessionID, userID)
	require.NoError(t, err)
	require.NotNil(t, s)
	return d, s
}

type assetLayout struct {
	chunks int
	init   bool
	legacy bool
	closed bool
}

// writeAssetFiles lays out a manifest and its segment files in dir
func writeAssetFiles(t *testing.T, dir string, layout assetLayout) {
	require.NoError(t, os.MkdirAll(dir, 0755))
	ext := "m4s"
	if layout.legacy {
		ext = "ts"
	}
	sb := strings.Builder{}
	sb.WriteString("#EXTM3U\n#EXT-X-VERSION:7\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:0\n#EXT-X-PLAYLIST-TYPE:EVENT\n")
	if layout.init {
		sb.WriteString("#EXT-X-MAP:URI=\"init.mp4\"\n")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "init.mp4"), []byte("init"), 0644))
	}
	for i := 0; i < layout.chunks; i++ {
		name := fmt.Sprintf("chunk-%05d.%s", i, ext)
		fmt.Fprintf(&sb, "#EXTINF:4.000000,\n%s\n", name)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("chunk"), 0644))
	}
	if layout.closed {
		sb.WriteString("#EXT-X-ENDLIST\n")
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte(sb.String()), 0644))
}
