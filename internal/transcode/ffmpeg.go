package transcode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/floostack/transcoder/ffmpeg"
	"github.com/lumenworks/lumen/pkg/logger"
)

var log = logger.Get("FFmpeg")

// ffmpegTranscoder implements the Transcoder capability by shelling out
// to ffmpeg/ffprobe via the floostack wrapper.
type ffmpegTranscoder struct {
	ffmpegBinPath  string
	ffprobeBinPath string
}

// DetectFfmpeg checks once at startup whether the configured ffmpeg and
// ffprobe binaries are present and executable. If either is missing,
// ErrTranscoderUnavailable is returned and the caller should reject video
// uploads outright rather than silently skipping their renditions.
func DetectFfmpeg(ffmpegBinPath string, ffprobeBinPath string) (Transcoder, error) {
	for _, bin := range []string{ffmpegBinPath, ffprobeBinPath} {
		if _, err := exec.LookPath(bin); err != nil {
			log.Warnf("Transcoder binary '%s' not found: %v\n", bin, err)
			return nil, fmt.Errorf("%w: binary '%s' not found", ErrTranscoderUnavailable, bin)
		}
	}

	log.Emit(logger.SUCCESS, "Transcoder capability detected (ffmpeg=%s ffprobe=%s)\n", ffmpegBinPath, ffprobeBinPath)
	return &ffmpegTranscoder{ffmpegBinPath: ffmpegBinPath, ffprobeBinPath: ffprobeBinPath}, nil
}

func (t *ffmpegTranscoder) Probe(ctx context.Context, inputPath string) (*ProbeResult, error) {
	metadata, err := ffmpeg.
		New(&ffmpeg.Config{FfmpegBinPath: t.ffmpegBinPath, FfprobeBinPath: t.ffprobeBinPath}).
		Input(inputPath).
		WithContext(&ctx).
		GetMetadata()
	if err != nil {
		return nil, fmt.Errorf("failed to extract file metadata information using ffprobe: %w", err)
	}

	result := &ProbeResult{}
	for _, stream := range metadata.GetStreams() {
		if stream.GetCodecType() != "video" {
			continue
		}

		result.Width = stream.GetWidth()
		result.Height = stream.GetHeight()
		result.Codec = stream.GetCodecName()
		result.FrameRateExpr = stream.GetAvgFrameRate()
		break
	}

	if duration, err := strconv.ParseFloat(metadata.GetFormat().GetDuration(), 64); err == nil {
		result.Duration = duration
	}

	if result.Width == 0 || result.Height == 0 {
		return nil, fmt.Errorf("probe of '%s' found no usable video stream", inputPath)
	}

	return result, nil
}

func (t *ffmpegTranscoder) Transcode(ctx context.Context, inputPath string, outputPath string, opts RenditionOptions) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create rendition output directory: %w", err)
	}

	overwrite := true
	ffmpegOpts := &ffmpeg.Options{Overwrite: &overwrite}
	if opts.Resolution != "" {
		ffmpegOpts.Resolution = &opts.Resolution
	}
	if opts.VideoCodec != "" {
		ffmpegOpts.VideoCodec = &opts.VideoCodec
	}
	if opts.AudioCodec != "" {
		ffmpegOpts.AudioCodec = &opts.AudioCodec
	}
	if opts.VideoBitRate != "" {
		ffmpegOpts.VideoBitRate = &opts.VideoBitRate
	}
	if opts.AudioBitRate != "" {
		ffmpegOpts.AudioBitrate = &opts.AudioBitRate
	}
	if opts.Format != "" {
		ffmpegOpts.OutputFormat = &opts.Format
	}
	if opts.SeekSeconds > 0 {
		seekTime := strconv.FormatFloat(opts.SeekSeconds, 'f', 3, 64)
		ffmpegOpts.SeekTime = &seekTime
	}
	if opts.SingleFrame {
		frames := 1
		skipAudio := true
		ffmpegOpts.Vframes = &frames
		ffmpegOpts.SkipAudio = &skipAudio
	}

	progress, err := ffmpeg.
		New(&ffmpeg.Config{
			ProgressEnabled: true,
			FfmpegBinPath:   t.ffmpegBinPath,
			FfprobeBinPath:  t.ffprobeBinPath,
		}).
		Input(inputPath).
		Output(outputPath).
		WithContext(&ctx).
		Start(ffmpegOpts)
	if err != nil {
		return fmt.Errorf("ffmpeg invocation failed: %w", err)
	}

	for prog := range progress {
		log.Verbosef("Transcode of %s -> %s at %.1f%%\n", inputPath, outputPath, prog.GetProgress())
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	return nil
}
