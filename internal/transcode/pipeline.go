package transcode

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lumenworks/lumen/internal/media"
	"github.com/lumenworks/lumen/pkg/logger"
)

var pipeLog = logger.Get("VideoPipe")

const (
	processedVideosDir = "processed/videos"
	thumbnailsDir      = "thumbnails"

	// posterPosition is how far through playback the poster frame is
	// extracted, as a fraction of total duration.
	posterPosition = 0.1
)

type (
	// Result carries the outcome of a video pipeline run. Width, height,
	// duration and the poster are always populated on success; the
	// rendition ladder may be partial.
	Result struct {
		Width     int
		Height    int
		Duration  float64
		Codec     string
		FrameRate float64
		Variants  []media.VariantDescriptor
		PosterURL string
	}

	// Pipeline drives the external transcoder capability through the
	// configured quality ladder for each video upload. Each tier is
	// invoked independently and is best-effort; the probe and the poster
	// extraction are not - without them the asset cannot be considered
	// processed.
	Pipeline struct {
		transcoder Transcoder
		config     Config
		rootDir    string
	}
)

func NewPipeline(transcoder Transcoder, config Config, rootDir string) *Pipeline {
	config.ApplyDefaults()
	return &Pipeline{transcoder: transcoder, config: config, rootDir: rootDir}
}

// Process probes the source, extracts the poster frame and then renders
// the quality ladder. A failed tier is logged and omitted from the result;
// a failed probe or poster aborts with an error.
func (pipeline *Pipeline) Process(ctx context.Context, sourcePath string, baseName string) (*Result, error) {
	probe, err := pipeline.invokeProbe(ctx, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("video probe failed: %w", err)
	}

	result := &Result{
		Width:     probe.Width,
		Height:    probe.Height,
		Duration:  probe.Duration,
		Codec:     probe.Codec,
		FrameRate: probe.FrameRate(),
		Variants:  make([]media.VariantDescriptor, 0, len(pipeline.config.Ladder)),
	}

	posterRel := filepath.Join(thumbnailsDir, baseName+".jpg")
	if err := pipeline.invokeTranscode(ctx, sourcePath, filepath.Join(pipeline.rootDir, posterRel), RenditionOptions{
		SeekSeconds: probe.Duration * posterPosition,
		SingleFrame: true,
	}); err != nil {
		return nil, fmt.Errorf("poster extraction failed: %w", err)
	}
	result.PosterURL = filepath.ToSlash(posterRel)

	for _, tier := range pipeline.config.Ladder {
		if tier.Height > probe.Height {
			pipeLog.Debugf("Skipping tier %s for %s: source height %d below tier height %d\n",
				tier.Name, baseName, probe.Height, tier.Height)
			continue
		}

		relPath := filepath.Join(processedVideosDir, fmt.Sprintf("%s-%s.%s", baseName, tier.Name, tier.Extension))
		err := pipeline.invokeTranscode(ctx, sourcePath, filepath.Join(pipeline.rootDir, relPath), RenditionOptions{
			Resolution:   fmt.Sprintf("%dx%d", tier.Width, tier.Height),
			VideoCodec:   tier.VideoCodec,
			AudioCodec:   tier.AudioCodec,
			VideoBitRate: tier.VideoBitRate,
			AudioBitRate: tier.AudioBitRate,
			Format:       tier.Format,
		})
		if err != nil {
			pipeLog.Warnf("Rendition tier %s for %s failed and will be omitted: %v\n", tier.Name, baseName, err)
			continue
		}

		result.Variants = append(result.Variants, media.VariantDescriptor{
			Preset: tier.Name,
			Format: tier.Extension,
			Width:  tier.Width,
			Height: tier.Height,
			URL:    filepath.ToSlash(relPath),
		})
	}

	pipeLog.Emit(logger.SUCCESS, "Transcoded %s: %d renditions, poster at %s\n",
		baseName, len(result.Variants), result.PosterURL)
	return result, nil
}

func (pipeline *Pipeline) invokeProbe(ctx context.Context, sourcePath string) (*ProbeResult, error) {
	ctx, cancel := pipeline.invocationContext(ctx)
	defer cancel()

	return pipeline.transcoder.Probe(ctx, sourcePath)
}

func (pipeline *Pipeline) invokeTranscode(ctx context.Context, inputPath string, outputPath string, opts RenditionOptions) error {
	ctx, cancel := pipeline.invocationContext(ctx)
	defer cancel()

	return pipeline.transcoder.Transcode(ctx, inputPath, outputPath, opts)
}

// invocationContext applies the defensive per-invocation timeout, if one
// is configured.
func (pipeline *Pipeline) invocationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := pipeline.config.InvocationTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}

	return context.WithCancel(ctx)
}
