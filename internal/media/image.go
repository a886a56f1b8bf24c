package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"golang.org/x/image/draw"

	"github.com/pitwall-labs/danksky/internal/domain"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	startQuality = 95
	minQuality   = 20
	qualityStep  = 5
	scaleStep    = 0.75
	minScale     = 0.3
)

// CompressImage re-encodes the image at path as JPEG until it fits
// maxBytes, mutating the file in place. Quality is lowered first
// (95 down to 20 in steps of 5); once exhausted, dimensions shrink by
// 0.75 per attempt. The best attempt is written back even when the
// budget was never met, in which case ErrBudgetUnreachable is
// returned. The file always holds decodable image bytes afterward.
func CompressImage(path string, maxBytes int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	// JPEG has no alpha channel; flatten everything onto an opaque
	// truecolor canvas before any encoding.
	img := flatten(src)

	quality := startQuality
	scale := 1.0
	var buf bytes.Buffer

	for {
		work := img
		if scale < 1.0 {
			work = resize(img, scale)
		}

		buf.Reset()
		if err := jpeg.Encode(&buf, work, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}

		if int64(buf.Len()) <= maxBytes {
			break
		}

		if quality > minQuality {
			quality -= qualityStep
		} else {
			scale *= scaleStep
		}

		if scale < minScale {
			break
		}
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}

	if int64(buf.Len()) > maxBytes {
		return domain.ErrBudgetUnreachable
	}
	return nil
}

// CompressImage is the image half of a Processor's normalization
// surface; the work itself needs no ffmpeg.
func (p *Processor) CompressImage(path string, maxBytes int64) error {
	return CompressImage(path, maxBytes)
}

// flatten draws the source over a white background, producing an
// opaque RGBA image.
func flatten(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	return dst
}

// resize scales the image by the given factor using Catmull-Rom
// interpolation.
func resize(src *image.RGBA, scale float64) *image.RGBA {
	bounds := src.Bounds()
	w := int(float64(bounds.Dx()) * scale)
	h := int(float64(bounds.Dy()) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
