package image

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/chai2010/webp"
	"github.com/lumenworks/lumen/internal/media"
	"github.com/lumenworks/lumen/pkg/logger"
	"github.com/lumenworks/lumen/pkg/worker"
	"github.com/nfnt/resize"
)

var log = logger.Get("ImagePipe")

type (
	// Result carries everything the variant pipeline learned about an
	// image: its raw dimensions, the variants which encoded successfully,
	// the inline placeholder and the dominant colour palette.
	Result struct {
		Width       int
		Height      int
		Variants    []media.VariantDescriptor
		Placeholder string
		Palette     []string
	}

	encodeJob struct {
		img     image.Image
		path    string
		format  string
		quality int
		done    chan error
	}

	// Pipeline produces the preset×format variant ladder for image
	// uploads. Decoding happens on the calling goroutine; the CPU-heavy
	// encodes are dispatched to a bounded worker pool shared by every
	// concurrent upload so image work cannot starve the scheduler.
	Pipeline struct {
		config  Config
		rootDir string

		jobs       chan encodeJob
		workerPool *worker.WorkerPool
	}
)

// processedImagesDir is where variants land, namespaced per preset:
// {root}/processed/images/{preset}/{basename}.{format}
const processedImagesDir = "processed/images"

func New(config Config, rootDir string) (*Pipeline, error) {
	if err := config.ApplyDefaults(); err != nil {
		return nil, err
	}

	pipeline := &Pipeline{
		config:     config,
		rootDir:    rootDir,
		jobs:       make(chan encodeJob, 128),
		workerPool: worker.NewWorkerPool(),
	}

	for i := 0; i < config.EncodeParallelism; i++ {
		label := fmt.Sprintf("encode-worker-%d", i)
		pipeline.workerPool.PushWorker(worker.NewWorker(label, pipeline.executeEncode))
	}

	return pipeline, nil
}

// Run starts the encode worker pool and blocks until the provided context
// is cancelled, at which point the pool is drained and closed.
func (pipeline *Pipeline) Run(ctx context.Context) error {
	if err := pipeline.workerPool.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	pipeline.workerPool.Close()
	return nil
}

// executeEncode is the worker task; it claims a single queued encode job
// (if any) and reports its outcome on the jobs done channel.
func (pipeline *Pipeline) executeEncode(w worker.Worker) (bool, error) {
	select {
	case job := <-pipeline.jobs:
		job.done <- pipeline.encodeToFile(job.img, job.path, job.format, job.quality)
		return true, nil
	default:
		return false, nil
	}
}

// Process generates the full variant ladder for the stored image at
// sourcePath. Each preset×format combination is attempted independently;
// a single combination's failure is logged and omitted from the result.
// If the source cannot be decoded at all, the pipeline degrades to
// recording only the original's raw dimensions - cosmetic failures must
// never abort an upload, so Process only errors when even that fails
// in a way that leaves nothing useful to record.
func (pipeline *Pipeline) Process(ctx context.Context, sourcePath string, baseName string) *Result {
	result := &Result{Variants: make([]media.VariantDescriptor, 0)}

	img, err := decodeFile(sourcePath)
	if err != nil {
		log.Warnf("Source image %s could not be decoded (%v); degrading to dimension probe\n", sourcePath, err)
		if w, h, err := decodeDimensions(sourcePath); err == nil {
			result.Width, result.Height = w, h
		} else {
			log.Errorf("Dimension probe for %s failed: %v\n", sourcePath, err)
		}

		return result
	}

	bounds := img.Bounds()
	result.Width, result.Height = bounds.Dx(), bounds.Dy()

	pending := make([]pendingVariant, 0, len(pipeline.config.Presets)*len(pipeline.config.Formats))
	for _, preset := range pipeline.config.Presets {
		resized := applyPreset(img, preset)
		rw, rh := resized.Bounds().Dx(), resized.Bounds().Dy()

		for _, format := range pipeline.config.Formats {
			relPath := filepath.Join(processedImagesDir, preset.Name, fmt.Sprintf("%s.%s", baseName, extensionFor(format)))
			job := encodeJob{
				img:     resized,
				path:    filepath.Join(pipeline.rootDir, relPath),
				format:  format,
				quality: preset.Quality,
				done:    make(chan error, 1),
			}

			select {
			case pipeline.jobs <- job:
				pipeline.workerPool.WakeupWorkers()
				pending = append(pending, pendingVariant{
					job: job,
					descriptor: media.VariantDescriptor{
						Preset: preset.Name,
						Format: format,
						Width:  rw,
						Height: rh,
						URL:    filepath.ToSlash(relPath),
					},
				})
			case <-ctx.Done():
				log.Warnf("Variant generation for %s interrupted: %v\n", baseName, ctx.Err())
				return result
			}
		}
	}

	for _, p := range pending {
		select {
		case err := <-p.job.done:
			if err != nil {
				log.Warnf("Variant %s/%s for %s failed: %v\n", p.descriptor.Preset, p.descriptor.Format, baseName, err)
				continue
			}

			result.Variants = append(result.Variants, p.descriptor)
		case <-ctx.Done():
			log.Warnf("Variant collection for %s interrupted: %v\n", baseName, ctx.Err())
			return result
		}
	}

	if placeholder, err := pipeline.placeholder(img); err == nil {
		result.Placeholder = placeholder
	} else {
		log.Warnf("Placeholder generation for %s failed: %v\n", baseName, err)
	}

	result.Palette = pipeline.palette(img)

	log.Emit(logger.SUCCESS, "Generated %d/%d variants for %s\n",
		len(result.Variants), len(pending), baseName)
	return result
}

type pendingVariant struct {
	job        encodeJob
	descriptor media.VariantDescriptor
}

// applyPreset resizes the image according to the presets fit mode. Images
// already within the preset bounds are never upscaled.
func applyPreset(img image.Image, preset Preset) image.Image {
	switch preset.Fit {
	case FitCover:
		return coverResize(img, preset.Width, preset.Height)
	default:
		return resize.Thumbnail(uint(preset.Width), uint(preset.Height), img, resize.Lanczos3)
	}
}

// coverResize scales the image so the preset bounds are entirely filled,
// then centre-crops the overflow. Smaller sources are left untouched.
func coverResize(img image.Image, width int, height int) image.Image {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= width && srcH <= height {
		return img
	}

	scaleW := float64(width) / float64(srcW)
	scaleH := float64(height) / float64(srcH)
	scale := scaleW
	if scaleH > scaleW {
		scale = scaleH
	}

	scaled := resize.Resize(uint(float64(srcW)*scale+0.5), uint(float64(srcH)*scale+0.5), img, resize.Lanczos3)
	scaledBounds := scaled.Bounds()

	x0 := scaledBounds.Min.X + (scaledBounds.Dx()-width)/2
	y0 := scaledBounds.Min.Y + (scaledBounds.Dy()-height)/2
	crop := image.Rect(x0, y0, x0+width, y0+height)

	if sub, ok := scaled.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(crop)
	}

	return scaled
}

func (pipeline *Pipeline) encodeToFile(img image.Image, path string, format string, quality int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create variant directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create variant file: %w", err)
	}
	defer file.Close()

	switch format {
	case "webp":
		return webp.Encode(file, img, &webp.Options{Quality: float32(quality)})
	case "jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: quality})
	case "png":
		return png.Encode(file, img)
	default:
		return fmt.Errorf("unknown variant format '%s'", format)
	}
}

func decodeFile(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	return img, err
}

func decodeDimensions(path string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	config, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, err
	}

	return config.Width, config.Height, nil
}

func extensionFor(format string) string {
	if format == "jpeg" {
		return "jpg"
	}

	return format
}
