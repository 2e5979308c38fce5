package session

import (
	"fmt"
	"strings"

	caterrs "github.com/livepeer/catalyst-audio/errors"
	"github.com/livepeer/catalyst-audio/pipeline"
)

type Quality string

const (
	// QualityLossless is the unmodified source tier
	QualityLossless Quality = "lossless"
	QualityHigh     Quality = "high"
	QualityMedium   Quality = "medium"
	QualityLow      Quality = "low"

	DefaultQuality = QualityLossless
)

var lossyBitrates = map[Quality]int{
	QualityMedium: 192,
	QualityLow:    128,
}

func ParseQuality(s string) (Quality, error) {
	q := Quality(strings.ToLower(strings.TrimSpace(s)))
	switch q {
	case QualityLossless, QualityHigh, QualityMedium, QualityLow:
		return q, nil
	case "original":
		return QualityLossless, nil
	}
	return "", fmt.Errorf("%w: %q", caterrs.ErrInvalidQuality, s)
}

// ProfileFor picks the encoding for a source. Only the lossless tier of a lossless source keeps the
// native codec. Everything else is a fixed bitrate lossy encode, topLossyKbps for the high tier.
func ProfileFor(sourceLossless bool, q Quality, topLossyKbps int) pipeline.Profile {
	if sourceLossless && q == QualityLossless {
		return pipeline.Profile{Codec: pipeline.CodecFLAC, Lossless: true}
	}
	bitrate, ok := lossyBitrates[q]
	if !ok || bitrate > topLossyKbps {
		bitrate = topLossyKbps
	}
	return pipeline.Profile{Codec: pipeline.CodecAAC, BitrateKbps: bitrate}
}
