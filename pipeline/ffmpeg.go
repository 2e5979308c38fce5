package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/livepeer/catalyst-audio/cache"
	"github.com/livepeer/catalyst-audio/log"
	"github.com/livepeer/catalyst-audio/subprocess"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const (
	CodecFLAC = "flac"
	CodecAAC  = "aac"

	SegmentFilePattern = "chunk-%05d.m4s"
	maxStderrLines     = 10
)

// FFmpegSegmenter builds HLS fMP4 assets by shelling out to ffmpeg
type FFmpegSegmenter struct {
	FFmpegPath     string
	SegmentSeconds int
}

// Args returns the ffmpeg command line, minus the binary, for a build
func (f FFmpegSegmenter) Args(req BuildRequest) []string {
	outputArgs := ffmpeg.KwArgs{
		// Only the first audio stream. Embedded cover art shows up as a video stream.
		"map":                    "0:a:0",
		"c:a":                    req.Profile.Codec,
		"f":                      "hls",
		"hls_time":               f.segmentSeconds(),
		"hls_list_size":          0,
		"hls_playlist_type":      "event",
		"hls_segment_type":       "fmp4",
		"hls_fmp4_init_filename": cache.InitFileName,
		"hls_segment_filename":   filepath.Join(req.OutputDir, SegmentFilePattern),
	}
	if req.Profile.Lossless {
		// FLAC in MP4 is still flagged experimental in some ffmpeg releases
		outputArgs["strict"] = "experimental"
	} else {
		outputArgs["b:a"] = fmt.Sprintf("%dk", req.Profile.BitrateKbps)
	}

	return ffmpeg.Input(req.SourcePath).
		Output(req.ManifestPath, outputArgs).
		OverWriteOutput().
		GetArgs()
}

func (f FFmpegSegmenter) segmentSeconds() int {
	if f.SegmentSeconds <= 0 {
		return 4
	}
	return f.SegmentSeconds
}

func (f FFmpegSegmenter) Segment(ctx context.Context, req BuildRequest) error {
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", req.OutputDir, err)
	}

	binary := f.FFmpegPath
	if binary == "" {
		binary = "ffmpeg"
	}
	args := f.Args(req)
	log.Log(req.RequestID, "Running ffmpeg", "cmd", binary+" "+strings.Join(args, " "))

	ffmpegErr := subprocess.NewOutputTail(req.RequestID, maxStderrLines)
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = ffmpegErr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to segment source file (%s) [%s]: %w", req.SourcePath, ffmpegErr.String(), err)
	}

	if _, err := os.Stat(req.ManifestPath); err != nil {
		return fmt.Errorf("ffmpeg finished without writing a manifest: %w", err)
	}
	return nil
}
