package image

import (
	"fmt"
	"image"
	"sort"

	"github.com/nfnt/resize"
)

// paletteBucketSize is the quantization step applied per channel before
// counting; 32 collapses the 16.7M colour space in to 512 buckets, which
// is coarse enough that photographic noise doesn't fragment the counts.
const (
	paletteBucketSize = 32
	paletteSize       = 5
)

type colourBucket struct {
	r, g, b uint8
	count   int
}

// palette extracts the dominant colours of the image by downsampling to a
// small fixed grid, quantizing each channel in to coarse buckets, counting
// bucket frequency and returning the top buckets as hex strings, sorted
// descending by count.
func (pipeline *Pipeline) palette(img image.Image) []string {
	grid := uint(pipeline.config.PaletteGridSize)
	sampled := resize.Thumbnail(grid, grid, img, resize.NearestNeighbor)

	counts := make(map[[3]uint8]int)
	bounds := sampled.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := sampled.At(x, y).RGBA()
			if a == 0 {
				continue
			}

			key := [3]uint8{
				quantizeChannel(uint8(r >> 8)),
				quantizeChannel(uint8(g >> 8)),
				quantizeChannel(uint8(b >> 8)),
			}
			counts[key]++
		}
	}

	buckets := make([]colourBucket, 0, len(counts))
	for key, count := range counts {
		buckets = append(buckets, colourBucket{key[0], key[1], key[2], count})
	}

	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].count != buckets[j].count {
			return buckets[i].count > buckets[j].count
		}

		// Deterministic ordering for equal counts.
		a, b := buckets[i], buckets[j]
		return (int(a.r)<<16 | int(a.g)<<8 | int(a.b)) < (int(b.r)<<16 | int(b.g)<<8 | int(b.b))
	})

	if len(buckets) > paletteSize {
		buckets = buckets[:paletteSize]
	}

	palette := make([]string, len(buckets))
	for k, bucket := range buckets {
		palette[k] = fmt.Sprintf("#%02x%02x%02x", bucket.r, bucket.g, bucket.b)
	}

	return palette
}

// quantizeChannel snaps a channel value to the centre of its bucket so
// the reported colour sits in the middle of the range it represents.
func quantizeChannel(v uint8) uint8 {
	bucket := int(v) / paletteBucketSize
	centre := bucket*paletteBucketSize + paletteBucketSize/2
	if centre > 255 {
		centre = 255
	}

	return uint8(centre)
}
