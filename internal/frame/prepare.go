package frame

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/MaxHalford/halfgone"
	"github.com/disintegration/imaging"
)

// Options select the optional steps of the image pipeline.
type Options struct {
	// Trim crops to the object bounds first: every pixel that differs from
	// the corner background colour, plus a small margin.
	Trim bool

	// Dither spreads the quantization error with Floyd-Steinberg. Without
	// it luma is thresholded at 128.
	Dither bool
}

func DefaultOptions() Options {
	return Options{Dither: true}
}

const (
	// threshold splits luma into black (below) and white.
	threshold = 128

	ratioTolerance = 0.01

	// trimDistance is the RGB distance from the background that counts
	// as part of the object.
	trimDistance = 15
	trimMargin   = 5

	// solidVariance bounds the mean squared deviation of the border
	// pixels of a plain background.
	solidVariance = 30
)

// Prepare turns img into a panel-sized image holding only black (0) and
// white (255) pixels:
//
//  1. Transparent areas are composited onto white.
//  2. With opts.Trim the image is cropped to its object bounds.
//  3. Portrait images are turned a quarter counter-clockwise.
//  4. A plain background is padded to the panel ratio with its own colour;
//     anything else is centre-cropped to it.
//  5. The result is resized to 800x480 (Lanczos).
//  6. Gray levels are dithered, or thresholded without opts.Dither.
func Prepare(img image.Image, opts Options) *image.Gray {
	gray := image.NewGray(image.Rect(0, 0, Width, Height))
	if img.Bounds().Empty() {
		draw.Draw(gray, gray.Bounds(), image.White, image.Point{}, draw.Src)
		return gray
	}

	src := flatten(img)
	if opts.Trim {
		src = trim(src)
	}
	if b := src.Bounds(); b.Dy() > b.Dx() {
		src = imaging.Rotate90(src)
	}
	src = toPanelRatio(src)
	if b := src.Bounds(); b.Dx() != Width || b.Dy() != Height {
		src = imaging.Resize(src, Width, Height, imaging.Lanczos)
	}
	draw.Draw(gray, gray.Bounds(), src, image.Point{}, draw.Src)

	if opts.Dither {
		return halfgone.FloydSteinbergDitherer{}.Apply(gray)
	}
	return halfgone.ThresholdDitherer{Threshold: threshold - 1}.Apply(gray)
}

func flatten(img image.Image) *image.NRGBA {
	src := imaging.Clone(img)
	b := src.Bounds()
	return imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), src, image.Point{}, 1.0)
}

// background is the most common corner colour; ties go to the first of
// top-left, top-right, bottom-left, bottom-right.
func background(img *image.NRGBA) color.NRGBA {
	b := img.Bounds()
	corners := []color.NRGBA{
		img.NRGBAAt(b.Min.X, b.Min.Y),
		img.NRGBAAt(b.Max.X-1, b.Min.Y),
		img.NRGBAAt(b.Min.X, b.Max.Y-1),
		img.NRGBAAt(b.Max.X-1, b.Max.Y-1),
	}
	best, bestN := corners[0], 0
	for _, c := range corners {
		n := 0
		for _, o := range corners {
			if o == c {
				n++
			}
		}
		if n > bestN {
			best, bestN = c, n
		}
	}
	return best
}

func distance2(a, b color.NRGBA) int {
	dr := int(a.R) - int(b.R)
	dg := int(a.G) - int(b.G)
	db := int(a.B) - int(b.B)
	return dr*dr + dg*dg + db*db
}

func trim(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	bg := background(img)

	left, top, right, bottom := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if distance2(img.NRGBAAt(x, y), bg) < trimDistance*trimDistance {
				continue
			}
			left, right = min(left, x), max(right, x)
			top, bottom = min(top, y), max(bottom, y)
		}
	}
	if right < left {
		return img
	}
	r := image.Rect(left-trimMargin, top-trimMargin, right+1+trimMargin, bottom+1+trimMargin)
	return imaging.Crop(img, r.Intersect(b))
}

// solidBorder reports whether the outermost rows and columns share one
// colour, within solidVariance.
func solidBorder(img *image.NRGBA) bool {
	b := img.Bounds()
	var border []color.NRGBA
	for x := b.Min.X; x < b.Max.X; x++ {
		border = append(border, img.NRGBAAt(x, b.Min.Y), img.NRGBAAt(x, b.Max.Y-1))
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		border = append(border, img.NRGBAAt(b.Min.X, y), img.NRGBAAt(b.Max.X-1, y))
	}

	var sr, sg, sb float64
	for _, c := range border {
		sr += float64(c.R)
		sg += float64(c.G)
		sb += float64(c.B)
	}
	n := float64(len(border))
	mr, mg, mb := sr/n, sg/n, sb/n

	var v float64
	for _, c := range border {
		dr, dg, db := float64(c.R)-mr, float64(c.G)-mg, float64(c.B)-mb
		v += dr*dr + dg*dg + db*db
	}
	return v/n < solidVariance
}

func toPanelRatio(img *image.NRGBA) *image.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	ratio := float64(w) / float64(h)
	target := float64(Width) / float64(Height)
	if math.Abs(ratio-target) < ratioTolerance {
		return img
	}

	if solidBorder(img) {
		pw, ph := w, h
		if ratio > target {
			ph = w * Height / Width
		} else {
			pw = h * Width / Height
		}
		return imaging.PasteCenter(imaging.New(pw, ph, background(img)), img)
	}
	if ratio > target {
		return imaging.CropCenter(img, max(1, h*Width/Height), h)
	}
	return imaging.CropCenter(img, w, max(1, w*Height/Width))
}
