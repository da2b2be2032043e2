package image_test

import (
	"context"
	gimage "image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/lumenworks/lumen/internal/image"
	"github.com/stretchr/testify/assert"
)

// makeTestImage writes a 64x48 PNG with a red left half and blue right
// half to the directory provided.
func makeTestImage(t *testing.T, dir string) string {
	t.Helper()

	img := gimage.NewRGBA(gimage.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			if x < 32 {
				img.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}

	path := filepath.Join(dir, "source.png")
	file, err := os.Create(path)
	assert.Nil(t, err)
	defer file.Close()
	assert.Nil(t, png.Encode(file, img))

	return path
}

func startPipeline(t *testing.T, config image.Config, rootDir string) *image.Pipeline {
	t.Helper()

	pipeline, err := image.New(config, rootDir)
	assert.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		assert.Nil(t, pipeline.Run(ctx))
		wg.Done()
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return pipeline
}

func TestVariantLadderIsGeneratedForEveryPresetAndFormat(t *testing.T) {
	rootDir, err := os.MkdirTemp("", "lumen_image_test")
	assert.Nil(t, err)
	defer os.RemoveAll(rootDir)

	sourcePath := makeTestImage(t, rootDir)
	pipeline := startPipeline(t, image.Config{
		Presets: []image.Preset{
			{Name: "small", Width: 32, Height: 32, Quality: 80, Fit: image.FitInside},
			{Name: "square", Width: 16, Height: 16, Quality: 80, Fit: image.FitCover},
		},
		Formats:           []string{"jpeg", "png"},
		PlaceholderWidth:  16,
		PaletteGridSize:   8,
		EncodeParallelism: 2,
	}, rootDir)

	result := pipeline.Process(context.Background(), sourcePath, "source")

	assert.Equal(t, 64, result.Width)
	assert.Equal(t, 48, result.Height)
	assert.Len(t, result.Variants, 4)

	for _, variant := range result.Variants {
		switch variant.Preset {
		case "small":
			// Aspect ratio is preserved when fitting inside the bounds.
			assert.Equal(t, 32, variant.Width)
			assert.Equal(t, 24, variant.Height)
		case "square":
			// Cover fit fills the bounds exactly.
			assert.Equal(t, 16, variant.Width)
			assert.Equal(t, 16, variant.Height)
		default:
			t.Fatalf("unexpected preset %q in variant manifest", variant.Preset)
		}

		_, err := os.Stat(filepath.Join(rootDir, variant.URL))
		assert.Nil(t, err, "variant file %s should exist", variant.URL)
	}

	// Variant URLs follow processed/images/{preset}/{basename}.{ext},
	// with jpeg files carrying the conventional .jpg extension.
	assert.Contains(t, variantURLs(result), "processed/images/small/source.jpg")
	assert.Contains(t, variantURLs(result), "processed/images/square/source.png")
}

func TestPlaceholderAndPaletteAreExtracted(t *testing.T) {
	rootDir, err := os.MkdirTemp("", "lumen_image_test")
	assert.Nil(t, err)
	defer os.RemoveAll(rootDir)

	sourcePath := makeTestImage(t, rootDir)
	pipeline := startPipeline(t, image.Config{
		Presets:           []image.Preset{{Name: "small", Width: 32, Height: 32, Quality: 80, Fit: image.FitInside}},
		Formats:           []string{"png"},
		PlaceholderWidth:  16,
		PaletteGridSize:   8,
		EncodeParallelism: 1,
	}, rootDir)

	result := pipeline.Process(context.Background(), sourcePath, "source")

	assert.True(t, strings.HasPrefix(result.Placeholder, "data:image/jpeg;base64,"))
	assert.NotEmpty(t, result.Palette)

	// An evenly split red/blue image quantizes to exactly two dominant
	// colours, reported at their bucket centres.
	assert.Len(t, result.Palette, 2)
	assert.Contains(t, result.Palette, "#f01010")
	assert.Contains(t, result.Palette, "#1010f0")
}

func TestUndecodableSourceDegradesToDimensionProbe(t *testing.T) {
	rootDir, err := os.MkdirTemp("", "lumen_image_test")
	assert.Nil(t, err)
	defer os.RemoveAll(rootDir)

	sourcePath := filepath.Join(rootDir, "garbage.png")
	assert.Nil(t, os.WriteFile(sourcePath, []byte("not an image at all"), 0o644))

	pipeline := startPipeline(t, image.Config{
		Presets:           []image.Preset{{Name: "small", Width: 32, Height: 32, Quality: 80, Fit: image.FitInside}},
		Formats:           []string{"png"},
		PlaceholderWidth:  16,
		PaletteGridSize:   8,
		EncodeParallelism: 1,
	}, rootDir)

	result := pipeline.Process(context.Background(), sourcePath, "garbage")

	// Nothing useful could be extracted but the upload must not abort.
	assert.Empty(t, result.Variants)
	assert.Empty(t, result.Placeholder)
	assert.Zero(t, result.Width)
}

func variantURLs(result *image.Result) []string {
	urls := make([]string, 0, len(result.Variants))
	for _, v := range result.Variants {
		urls = append(urls, v.URL)
	}

	return urls
}
