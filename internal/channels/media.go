package channels

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// maxImageDim is the default bounding box for outbound images. Most chat
// platforms reject or recompress anything larger.
const maxImageDim = 2048

// PrepareImage downscales an image to fit within maxDim and returns the path
// to send. Images already within bounds are returned unchanged; the caller
// owns cleanup of the returned path only when resized is true.
func PrepareImage(path string, maxDim int) (out string, resized bool, err error) {
	if maxDim <= 0 {
		maxDim = maxImageDim
	}
	if !isImagePath(path) {
		return path, false, nil
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", false, fmt.Errorf("open image: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxDim && bounds.Dy() <= maxDim {
		return path, false, nil
	}

	fitted := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	tmp, err := os.CreateTemp("", "calder-img-*"+filepath.Ext(path))
	if err != nil {
		return "", false, fmt.Errorf("temp image: %w", err)
	}
	tmp.Close()
	if err := imaging.Save(fitted, tmp.Name()); err != nil {
		os.Remove(tmp.Name())
		return "", false, fmt.Errorf("save resized image: %w", err)
	}
	return tmp.Name(), true, nil
}

func isImagePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff":
		return true
	}
	return false
}
