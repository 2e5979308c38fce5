package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// KeyInputs are everything that determines the bytes of a generated streaming asset
type KeyInputs struct {
	TrackID       string
	SourcePath    string
	SourceModTime time.Time
	Quality       string
	// Bumping this invalidates every existing entry without touching the filesystem
	SchemaVersion int
}

var keyPattern = regexp.MustCompile(`^v\d+-[0-9a-f]{40}$`)

func (k KeyInputs) fields() map[string]string {
	return map[string]string{
		"cacheSchemaVersion": strconv.Itoa(k.SchemaVersion),
		"quality":            strings.ToLower(strings.TrimSpace(k.Quality)),
		"sourceModTime":      strconv.FormatInt(k.SourceModTime.UnixNano(), 10),
		"sourcePath":         filepath.Clean(k.SourcePath),
		"trackId":            k.TrackID,
	}
}

// Canonical renders the inputs as sorted, length-prefixed name/value lines
func (k KeyInputs) Canonical() string {
	fields := k.fields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	sb := strings.Builder{}
	for _, name := range names {
		value := fields[name]
		fmt.Fprintf(&sb, "%s=%d:%s\n", name, len(value), value)
	}
	return sb.String()
}

// DeriveCacheKey is a pure function of its inputs and is safe to use as a directory name
func DeriveCacheKey(k KeyInputs) string {
	sum := sha256.Sum256([]byte(k.Canonical()))
	return fmt.Sprintf("v%d-%s", k.SchemaVersion, hex.EncodeToString(sum[:])[:40])
}

func IsValidKey(key string) bool {
	return keyPattern.MatchString(key)
}
