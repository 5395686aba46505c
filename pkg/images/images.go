// Package images persists generated illustrations as WebP files on disk.
package images

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gen2brain/webp"

	"kidsklassiks/pkg/utils"
)

// Store writes illustration artifacts under a root directory, one file per
// adaptation/chapter pair.
type Store struct {
	Root string
}

func NewStore(root string) *Store {
	if root == "" {
		root = filepath.Join("images", "chapters")
	}
	return &Store{Root: root}
}

// Save re-encodes raw image bytes (PNG or anything image.Decode handles) to
// a high-quality WebP and returns the stored path.
func (s *Store) Save(adaptationID string, chapterNumber int, data []byte) (string, error) {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create image dir: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		// Fallback: try generic decode if not PNG.
		var err2 error
		img, _, err2 = image.Decode(bytes.NewReader(data))
		if err2 != nil {
			return "", fmt.Errorf("failed to decode image (png: %v, generic: %v)", err, err2)
		}
	}

	buf := new(bytes.Buffer)
	if err := webp.Encode(buf, img, webp.Options{Lossless: false, Quality: 100}); err != nil {
		return "", fmt.Errorf("failed to encode webp: %w", err)
	}

	filename := fmt.Sprintf("%s-ch%03d.webp", utils.SanitizeFilename(adaptationID), chapterNumber)
	fullPath := filepath.Join(s.Root, filename)
	if err := os.WriteFile(fullPath, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", fullPath, err)
	}

	return fullPath, nil
}
