// Package thumbnail renders small JPEG previews of uploaded images for the
// landing pages.
package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/nfnt/resize"
)

// MaxEdge bounds the longer side of a thumbnail in pixels.
const MaxEdge = 160

// maxSourcePixels refuses images whose header claims more pixels than this,
// so a tiny file cannot expand into gigabytes of memory.
const maxSourcePixels = 50_000_000

var (
	// ErrUnsupported is returned for content that cannot be thumbnailed.
	ErrUnsupported = errors.New("thumbnail: unsupported image type")
	ErrTooLarge    = errors.New("thumbnail: image dimensions too large")
)

// Supported reports whether mimeType can be decoded.
func Supported(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/gif":
		return true
	}
	return false
}

// Render decodes the image in r and writes a JPEG no larger than
// MaxEdge x MaxEdge to w, keeping the aspect ratio. Images already small
// enough are re-encoded unscaled.
func Render(w io.Writer, r io.Reader) error {
	// Read the header through a tee so the full decode can replay it.
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return ErrUnsupported
		}
		return fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width*cfg.Height > maxSourcePixels {
		return ErrTooLarge
	}
	img, _, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	thumb := resize.Thumbnail(MaxEdge, MaxEdge, img, resize.Lanczos3)
	if err := jpeg.Encode(w, thumb, &jpeg.Options{Quality: 80}); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	return nil
}
