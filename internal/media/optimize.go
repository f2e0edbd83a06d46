package media

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"github.com/chai2010/webp"
	xwebp "golang.org/x/image/webp"
)

// Downscale bounds for stored feed images.
const (
	imgMaxW        = 1280
	imgMaxH        = 1280
	imgJPEGQuality = 85
	imgWebPQuality = 85.0
)

// downscale shrinks an oversized image before upload, re-encoding in the same
// format so the stored MIME and key extension stay truthful. Anything that
// cannot be decoded or re-encoded is uploaded as is.
func downscale(b []byte, mime string) []byte {
	img, err := decode(b, mime)
	if err != nil {
		return b
	}
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return b
	}
	sw := float64(imgMaxW) / float64(w)
	sh := float64(imgMaxH) / float64(h)
	scale := math.Min(sw, sh)
	if scale >= 1.0 {
		return b
	}

	newW := int(math.Max(1, math.Round(float64(w)*scale)))
	newH := int(math.Max(1, math.Round(float64(h)*scale)))
	resized := resizeBilinear(img, newW, newH)

	out, err := encode(resized, mime)
	if err != nil {
		return b
	}
	return out
}

func decode(b []byte, mime string) (image.Image, error) {
	if strings.Contains(strings.ToLower(mime), "webp") {
		if img, err := xwebp.Decode(bytes.NewReader(b)); err == nil {
			return img, nil
		}
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		// Wrong MIME stored upstream happens; try WebP as a last resort.
		if img2, err2 := xwebp.Decode(bytes.NewReader(b)); err2 == nil {
			return img2, nil
		}
		return nil, err
	}
	return img, nil
}

func encode(img image.Image, mime string) ([]byte, error) {
	var out bytes.Buffer
	if strings.Contains(strings.ToLower(mime), "webp") {
		if err := webp.Encode(&out, img, &webp.Options{Lossless: false, Quality: imgWebPQuality}); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	}
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: imgJPEGQuality}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// resizeBilinear performs a simple bilinear downscale to dstW x dstH.
func resizeBilinear(src image.Image, dstW, dstH int) image.Image {
	if dstW <= 0 || dstH <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	b := src.Bounds()
	srcW := b.Dx()
	srcH := b.Dy()
	if srcW == 0 || srcH == 0 {
		return dst
	}
	sx := float64(srcW) / float64(dstW)
	sy := float64(srcH) / float64(dstH)
	for y := 0; y < dstH; y++ {
		fy := (float64(y)+0.5)*sy - 0.5
		y0 := int(math.Floor(fy))
		if y0 < 0 {
			y0 = 0
		}
		y1 := y0 + 1
		if y1 >= srcH {
			y1 = srcH - 1
		}
		wy := fy - float64(y0)
		for x := 0; x < dstW; x++ {
			fx := (float64(x)+0.5)*sx - 0.5
			x0 := int(math.Floor(fx))
			if x0 < 0 {
				x0 = 0
			}
			x1 := x0 + 1
			if x1 >= srcW {
				x1 = srcW - 1
			}
			wx := fx - float64(x0)

			c00 := toRGBA(src.At(b.Min.X+x0, b.Min.Y+y0))
			c10 := toRGBA(src.At(b.Min.X+x1, b.Min.Y+y0))
			c01 := toRGBA(src.At(b.Min.X+x0, b.Min.Y+y1))
			c11 := toRGBA(src.At(b.Min.X+x1, b.Min.Y+y1))

			r := (1-wx)*(1-wy)*float64(c00.R) + wx*(1-wy)*float64(c10.R) + (1-wx)*wy*float64(c01.R) + wx*wy*float64(c11.R)
			g := (1-wx)*(1-wy)*float64(c00.G) + wx*(1-wy)*float64(c10.G) + (1-wx)*wy*float64(c01.G) + wx*wy*float64(c11.G)
			bl := (1-wx)*(1-wy)*float64(c00.B) + wx*(1-wy)*float64(c10.B) + (1-wx)*wy*float64(c01.B) + wx*wy*float64(c11.B)
			a := (1-wx)*(1-wy)*float64(c00.A) + wx*(1-wy)*float64(c10.A) + (1-wx)*wy*float64(c01.A) + wx*wy*float64(c11.A)

			dst.Set(x, y, color.RGBA{R: uint8(clamp255(r)), G: uint8(clamp255(g)), B: uint8(clamp255(bl)), A: uint8(clamp255(a))})
		}
	}
	return dst
}

// toRGBA converts a color.Color to non-premultiplied 8-bit RGBA.
func toRGBA(c color.Color) color.RGBA {
	r, g, b, a := c.RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}

func clamp255(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
