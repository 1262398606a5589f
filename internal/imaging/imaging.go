// Package imaging turns client-supplied image payloads into the JPEG bytes
// the comparator expects, and optionally rejects unusable captures.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// JPEGQuality is used when re-encoding for the comparator.
const JPEGQuality = 95

// Error is returned for payloads that cannot be used; it always blames the
// request.
type Error struct {
	Reason string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// ClientReason implements the client-error classification used by the
// request pipeline.
func (e *Error) ClientReason() string { return e.Reason }

// IsImageError reports whether err came from this package.
func IsImageError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// DecodeBase64 strips an optional data URL prefix and decodes the payload.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &Error{Reason: "missing_image", Msg: "image is empty"}
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// some clients drop the padding
		if b2, err2 := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err2 == nil {
			return b2, nil
		}
		return nil, &Error{Reason: "invalid_base64", Msg: "image is not valid base64", Err: err}
	}
	return b, nil
}

// Decode parses any registered format (jpeg, png, gif, bmp, webp).
func Decode(raw []byte) (image.Image, string, error) {
	if len(raw) == 0 {
		return nil, "", &Error{Reason: "missing_image", Msg: "image is empty"}
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", &Error{Reason: "invalid_image", Msg: "cannot decode image", Err: err}
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", &Error{Reason: "invalid_image", Msg: "image has no pixels"}
	}
	return img, format, nil
}

// ToRGB flattens transparency onto white; the result has no alpha.
func ToRGB(img image.Image) image.Image {
	switch img.ColorModel() {
	case color.YCbCrModel, color.GrayModel:
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// EncodeJPEG encodes img at JPEGQuality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, ToRGB(img), &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Prepared is a decoded image ready for comparison.
type Prepared struct {
	Image  image.Image
	Format string
	JPEG   []byte
}

// Prepare decodes raw bytes and re-encodes them as JPEG.
func Prepare(raw []byte) (*Prepared, error) {
	img, format, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	out, err := EncodeJPEG(img)
	if err != nil {
		return nil, err
	}
	return &Prepared{Image: img, Format: format, JPEG: out}, nil
}

// PrepareBase64 is DecodeBase64 followed by Prepare.
func PrepareBase64(s string) (*Prepared, error) {
	raw, err := DecodeBase64(s)
	if err != nil {
		return nil, err
	}
	return Prepare(raw)
}

// DataURI renders JPEG bytes as a data URI.
func DataURI(jpegBytes []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes)
}

// SyntheticJPEG returns a size×size gray gradient, used to warm up the
// comparator without a real capture.
func SyntheticJPEG(size int) []byte {
	if size <= 0 {
		size = 64
	}
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) * 255 / (2 * size))})
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}
