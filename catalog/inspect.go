package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/golang/glog"
	"gopkg.in/vansante/go-ffprobe.v2"
)

var losslessCodecs = []string{"flac", "alac", "wavpack", "ape", "tta", "truehd", "mlp", "pcm_", "dsd_"}

// SourceFile is what is known about a track's file on disk
type SourceFile struct {
	Path     string
	ModTime  time.Time
	Size     int64
	Codec    string
	Lossless bool
}

// Inspector works out whether a source file is lossless. Container sniffing covers the common
// formats and ffprobe covers the rest.
type Inspector struct {
	probeTimeout time.Duration
}

func NewInspector(ffprobePath string) Inspector {
	if ffprobePath != "" {
		ffprobe.SetFFProbeBinPath(ffprobePath)
	}
	return Inspector{probeTimeout: 30 * time.Second}
}

// Inspect stats the file at path and classifies its audio codec. codecHint is used when the file
// cannot be classified by content.
func (i Inspector) Inspect(ctx context.Context, path, codecHint string) (SourceFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return SourceFile{}, err
	}
	if !info.Mode().IsRegular() {
		return SourceFile{}, fmt.Errorf("%s is not a regular file", path)
	}
	src := SourceFile{Path: path, ModTime: info.ModTime(), Size: info.Size()}

	if codec, ok := sniffCodec(path); ok {
		src.Codec = codec
	} else if codec, err := i.probeCodec(ctx, path); err == nil {
		src.Codec = codec
	} else {
		glog.V(5).Infof("Falling back to catalog codec for %s: %s", path, err)
		src.Codec = strings.ToLower(codecHint)
	}
	src.Lossless = IsLosslessCodec(src.Codec)
	return src, nil
}

// sniffCodec identifies the codec from container magic. MP4 containers are ambiguous and report false.
func sniffCodec(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	_, fileType, err := tag.Identify(f)
	if err != nil {
		return "", false
	}
	switch fileType {
	case tag.FLAC:
		return "flac", true
	case tag.ALAC:
		return "alac", true
	case tag.DSF:
		return "dsd_lsbf", true
	case tag.MP3:
		return "mp3", true
	case tag.OGG:
		return "vorbis", true
	}
	return "", false
}

func (i Inspector) probeCodec(ctx context.Context, path string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, i.probeTimeout)
	defer cancel()
	data, err := ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
	if err != nil {
		return "", fmt.Errorf("error probing: %w", err)
	}
	stream := data.FirstAudioStream()
	if stream == nil {
		return "", fmt.Errorf("no audio stream found in %s", path)
	}
	return strings.ToLower(stream.CodecName), nil
}

func IsLosslessCodec(codec string) bool {
	codec = strings.ToLower(codec)
	for _, c := range losslessCodecs {
		if codec == c || (strings.HasSuffix(c, "_") && strings.HasPrefix(codec, c)) {
			return true
		}
	}
	return false
}
