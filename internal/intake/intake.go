// Package intake turns uploaded files and base64 frames into canonical images.
package intake

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	// Registered decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is a decoded, opaque RGB image ready for inference.
// The alpha channel of RGBA is always fully opaque.
type Image struct {
	RGBA   *image.RGBA
	Format string // source encoding as reported by image.Decode
}

// Width returns the image width in pixels
func (img *Image) Width() int {
	return img.RGBA.Bounds().Dx()
}

// Height returns the image height in pixels
func (img *Image) Height() int {
	return img.RGBA.Bounds().Dy()
}

// IsImageContentType reports whether a declared content type is an image type
func IsImageContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// DefaultMaxPixels bounds the declared size of a decoded image
const DefaultMaxPixels = 40_000_000

// Decoder turns client payloads into canonical images. Images whose header
// declares more than MaxPixels pixels are rejected before any pixel data is
// decoded.
type Decoder struct {
	MaxPixels int64
}

// NewDecoder creates a decoder. A non-positive limit uses DefaultMaxPixels.
func NewDecoder(maxPixels int64) *Decoder {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Decoder{MaxPixels: maxPixels}
}

var defaultDecoder = NewDecoder(DefaultMaxPixels)

// Decode validates the declared content type and decodes an uploaded file
func (d *Decoder) Decode(contentType string, data []byte) (*Image, error) {
	if !IsImageContentType(contentType) {
		return nil, invalid(ReasonUnsupportedContentType, nil)
	}
	return d.decodeBytes(data)
}

// DecodeBase64Frame decodes a base64 encoded frame. A data URL prefix is
// stripped and missing padding is tolerated.
func (d *Decoder) DecodeBase64Frame(payload string) (*Image, error) {
	data, err := decodeBase64(payload)
	if err != nil {
		return nil, invalid(ReasonMalformedImage, err)
	}
	return d.decodeBytes(data)
}

// Decode decodes an uploaded file with the default pixel limit
func Decode(contentType string, data []byte) (*Image, error) {
	return defaultDecoder.Decode(contentType, data)
}

// DecodeBase64Frame decodes a base64 frame with the default pixel limit
func DecodeBase64Frame(payload string) (*Image, error) {
	return defaultDecoder.DecodeBase64Frame(payload)
}

func decodeBase64(payload string) ([]byte, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx != -1 {
			s = s[idx+1:]
		}
	}
	if s == "" {
		return nil, errors.New("empty payload")
	}
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Browsers occasionally send the URL-safe alphabet
		if urlData, urlErr := base64.URLEncoding.DecodeString(s); urlErr == nil {
			return urlData, nil
		}
		return nil, err
	}
	return data, nil
}

func (d *Decoder) decodeBytes(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, invalid(ReasonMalformedImage, errors.New("empty image"))
	}

	// The header is checked first so a small payload cannot force a huge allocation
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, invalid(ReasonMalformedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, invalid(ReasonMalformedImage, errors.New("zero-sized image"))
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > d.MaxPixels {
		return nil, invalid(ReasonMalformedImage, fmt.Errorf("image is %dx%d, limit is %d pixels", cfg.Width, cfg.Height, d.MaxPixels))
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, invalid(ReasonMalformedImage, err)
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, invalid(ReasonMalformedImage, errors.New("zero-sized image"))
	}
	return &Image{RGBA: canonicalize(src), Format: format}, nil
}

// canonicalize converts any color model to RGBA and flattens transparency onto white
func canonicalize(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}
