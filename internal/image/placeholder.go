package image

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/nfnt/resize"
)

// placeholderQuality is deliberately dreadful; the placeholder exists to
// occupy layout space while the real variant loads, nothing more.
const placeholderQuality = 40

// placeholder produces the tiny low-quality preview embedded inline in
// markup (as a data URI) for perceived-load-time UI. The heavy blur is
// achieved by downsampling to a handful of pixels and letting the client
// scale it back up.
func (pipeline *Pipeline) placeholder(img image.Image) (string, error) {
	width := uint(pipeline.config.PlaceholderWidth)
	tiny := resize.Thumbnail(width, width, img, resize.Bilinear)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, tiny, &jpeg.Options{Quality: placeholderQuality}); err != nil {
		return "", fmt.Errorf("failed to encode placeholder: %w", err)
	}

	return fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}
