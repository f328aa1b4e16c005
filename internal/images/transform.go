package images

import (
	"bytes"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"newsingest/internal/apperr"
)

// mimeTypes maps target formats to their served content type.
var mimeTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

// extensions maps target formats to the filename extension used in the
// content-addressable key.
var extensions = map[string]string{
	"jpeg": "jpg",
	"png":  "png",
	"webp": "webp",
}

// transform decodes raw bytes, fits the image into width×height preserving
// aspect ratio without upscaling, and re-encodes to the target format at the
// requested quality. It returns the encoded bytes and final dimensions.
func transform(raw []byte, width, height, quality int, format string) ([]byte, int, int, error) {
	src, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, 0, &apperr.ImageProcessError{Step: "decode", Err: err}
	}

	// Fit never upscales: images already inside the box pass through.
	fitted := imaging.Fit(src, width, height, imaging.Lanczos)
	bounds := fitted.Bounds()

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(quality))
	case "png":
		err = imaging.Encode(&buf, fitted, imaging.PNG)
	case "webp":
		err = webp.Encode(&buf, fitted, &webp.Options{Quality: float32(quality)})
	default:
		err = fmt.Errorf("unsupported target format %q", format)
	}
	if err != nil {
		return nil, 0, 0, &apperr.ImageProcessError{Step: "encode", Err: err}
	}

	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

// decodeConfig reports the source dimensions without a full decode. Used for
// logging only; failures are ignored by callers.
func decodeConfig(raw []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
