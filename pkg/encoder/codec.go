package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// CompressYUV420 is the default compression function. It interprets raw as
// a planar YUV420 buffer (full-stride luma plane followed by the half-stride
// chroma planes) and encodes it as a baseline JPEG at the given quality.
// The chroma planes are referenced in place; nothing is copied.
func CompressYUV420(raw []byte, geom Geometry, quality int) ([]byte, error) {
	if geom.Width <= 0 || geom.Height <= 0 {
		return nil, fmt.Errorf("invalid geometry %dx%d", geom.Width, geom.Height)
	}
	if geom.Stride < geom.Width {
		return nil, fmt.Errorf("stride %d smaller than width %d", geom.Stride, geom.Width)
	}
	if geom.Width%2 != 0 || geom.Height%2 != 0 {
		return nil, fmt.Errorf("yuv420 requires even dimensions, got %dx%d", geom.Width, geom.Height)
	}

	ySize := geom.Stride * geom.Height
	cStride := geom.Stride / 2
	cSize := cStride * (geom.Height / 2)
	if len(raw) < ySize+2*cSize {
		return nil, fmt.Errorf("raw buffer too short: %d bytes for %dx%d stride %d",
			len(raw), geom.Width, geom.Height, geom.Stride)
	}

	img := &image.YCbCr{
		Y:              raw[:ySize],
		Cb:             raw[ySize : ySize+cSize],
		Cr:             raw[ySize+cSize : ySize+2*cSize],
		YStride:        geom.Stride,
		CStride:        cStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, geom.Width, geom.Height),
	}

	if quality < 1 {
		quality = 1
	} else if quality > 100 {
		quality = 100
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
