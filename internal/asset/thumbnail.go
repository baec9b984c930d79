package asset

import (
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/neuralfs/neuralfs/internal/faults"
)

// Thumbnail size classes, selected by ui.thumbnail_size.
var thumbnailSizes = map[string]int{
	"small":  64,
	"medium": 128,
	"large":  256,
}

const defaultThumbnailSize = "medium"

// Thumbnailer renders and caches downscaled JPEG thumbnails under the
// data directory.
type Thumbnailer struct {
	cacheDir string
}

// NewThumbnailer ensures the cache directory exists.
func NewThumbnailer(cacheDir string) (*Thumbnailer, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("create thumbnail cache: %w", err)
	}
	return &Thumbnailer{cacheDir: cacheDir}, nil
}

// Render returns the path of a cached thumbnail for the source image,
// generating it on first use. The cache key includes the source
// modification time so stale thumbnails regenerate.
func (t *Thumbnailer) Render(fileID, srcPath, sizeClass string) (string, error) {
	px, ok := thumbnailSizes[sizeClass]
	if !ok {
		px = thumbnailSizes[defaultThumbnailSize]
		sizeClass = defaultThumbnailSize
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return "", faults.Wrap(faults.NotFound, "thumbnail source", err)
	}
	cached := filepath.Join(t.cacheDir,
		fmt.Sprintf("%s_%s_%d.jpg", fileID, sizeClass, info.ModTime().Unix()))
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", faults.Wrap(faults.TransientIO, "open thumbnail source", err)
	}
	defer src.Close()
	img, _, err := image.Decode(src)
	if err != nil {
		return "", faults.Wrap(faults.UnsupportedFormat, "decode image", err)
	}

	scaled := scaleToFit(img, px)
	out, err := os.Create(cached)
	if err != nil {
		return "", faults.Wrap(faults.TransientIO, "write thumbnail", err)
	}
	defer out.Close()
	if err := jpeg.Encode(out, scaled, &jpeg.Options{Quality: 82}); err != nil {
		os.Remove(cached)
		return "", faults.Wrap(faults.Internal, "encode thumbnail", err)
	}
	return cached, nil
}

// scaleToFit downscales img so its longer edge is maxPx, preserving
// aspect ratio. Images already small enough are re-encoded unscaled.
func scaleToFit(img image.Image, maxPx int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxPx && h <= maxPx {
		return img
	}
	if w > h {
		h = h * maxPx / w
		w = maxPx
	} else {
		w = w * maxPx / h
		h = maxPx
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
