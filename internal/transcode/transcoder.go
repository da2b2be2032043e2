package transcode

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// ErrTranscoderUnavailable indicates the external transcoder capability
// could not be detected at startup. This is a feature-level, fatal
// condition for video uploads - never a best-effort degradation.
var ErrTranscoderUnavailable = errors.New("transcoder capability unavailable")

type (
	// ProbeResult is the core metadata extracted from a video container.
	// FrameRateExpr is the fractional expression ("num/den") as reported
	// by the probe; evaluate it with FrameRate.
	ProbeResult struct {
		Width         int
		Height        int
		Duration      float64
		Codec         string
		FrameRateExpr string
	}

	// RenditionOptions describes a single transcoder invocation. When
	// SingleFrame is set the invocation extracts one frame at SeekSeconds
	// instead of producing a full rendition.
	RenditionOptions struct {
		Resolution   string
		VideoCodec   string
		AudioCodec   string
		VideoBitRate string
		AudioBitRate string
		Format       string
		SeekSeconds  float64
		SingleFrame  bool
	}

	// Transcoder is the external transcoding capability. The pipeline has
	// zero knowledge of the specific binary or invocation syntax behind
	// it, which also allows substituting a mock in tests.
	Transcoder interface {
		Probe(ctx context.Context, inputPath string) (*ProbeResult, error)
		Transcode(ctx context.Context, inputPath string, outputPath string, opts RenditionOptions) error
	}
)

// FrameRate evaluates the probes fractional frame rate expression
// numerically. Malformed expressions and zero denominators yield 0
// rather than an error; a missing frame rate is not worth failing an
// upload over.
func (probe *ProbeResult) FrameRate() float64 {
	parts := strings.SplitN(probe.FrameRateExpr, "/", 2)
	if len(parts) == 1 {
		if rate, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err == nil {
			return rate
		}

		return 0
	}

	num, errNum := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	den, errDen := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errNum != nil || errDen != nil || den == 0 {
		return 0
	}

	return num / den
}
