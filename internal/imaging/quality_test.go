package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(w, h int, f func(x, y int) uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: f(x, y)})
		}
	}
	return img
}

func TestCheckQuality(t *testing.T) {
	cases := []struct {
		name string
		img  image.Image
		msg  string
	}{
		{"dark", fill(32, 32, func(x, y int) uint8 { return 10 }), "Image is too dark"},
		{"flat", fill(32, 32, func(x, y int) uint8 { return 128 }), "Image has low contrast"},
		{"blurry", fill(64, 64, func(x, y int) uint8 { return uint8(x * 255 / 63) }), "Image is not sharp enough"},
		{"sharp", fill(32, 32, func(x, y int) uint8 {
			if (x+y)%2 == 0 {
				return 255
			}
			return 0
		}), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CheckQuality(tc.img)
			if tc.msg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ie *Error
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, "poor_quality", ie.ClientReason())
			assert.Equal(t, tc.msg, ie.Msg)
		})
	}
}

func TestMeasure_Checkerboard(t *testing.T) {
	rep := Measure(fill(16, 16, func(x, y int) uint8 {
		if (x+y)%2 == 0 {
			return 200
		}
		return 0
	}))
	assert.InDelta(t, 100, rep.Brightness, 0.01)
	assert.InDelta(t, 100, rep.Contrast, 0.01)
	assert.Greater(t, rep.Sharpness, MinSharpness)
}
