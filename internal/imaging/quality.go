package imaging

import (
	"image"
	"image/color"
	"math"
)

// Quality thresholds on the 0..255 grayscale.
const (
	MinBrightness = 40.0
	MinContrast   = 20.0
	MinSharpness  = 100.0
)

// QualityReport holds grayscale statistics of a capture.
type QualityReport struct {
	Brightness float64 // mean
	Contrast   float64 // standard deviation
	Sharpness  float64 // variance of the 4-neighbour Laplacian
}

// Measure computes the report for img.
func Measure(img image.Image) QualityReport {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	gray := make([]float64, w*h)
	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			v := float64(g.Y)
			gray[y*w+x] = v
			sum += v
		}
	}
	n := float64(len(gray))
	mean := sum / n
	var sq float64
	for _, v := range gray {
		sq += (v - mean) * (v - mean)
	}
	rep := QualityReport{Brightness: mean, Contrast: math.Sqrt(sq / n)}
	rep.Sharpness = laplacianVariance(gray, w, h)
	return rep
}

// laplacianVariance uses reflect-101 borders, like OpenCV's default.
func laplacianVariance(g []float64, w, h int) float64 {
	if w < 2 || h < 2 {
		return 0
	}
	at := func(x, y int) float64 {
		if x < 0 {
			x = -x
		} else if x >= w {
			x = 2*w - x - 2
		}
		if y < 0 {
			y = -y
		} else if y >= h {
			y = 2*h - y - 2
		}
		return g[y*w+x]
	}
	var sum, sq float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += l
			sq += l * l
		}
	}
	n := float64(w * h)
	mean := sum / n
	return sq/n - mean*mean
}

// CheckQuality returns an *Error with reason "poor_quality" when the capture
// is too dark, too flat or too blurry.
func CheckQuality(img image.Image) (QualityReport, error) {
	rep := Measure(img)
	switch {
	case rep.Brightness < MinBrightness:
		return rep, &Error{Reason: "poor_quality", Msg: "Image is too dark"}
	case rep.Contrast < MinContrast:
		return rep, &Error{Reason: "poor_quality", Msg: "Image has low contrast"}
	case rep.Sharpness < MinSharpness:
		return rep, &Error{Reason: "poor_quality", Msg: "Image is not sharp enough"}
	}
	return rep, nil
}
