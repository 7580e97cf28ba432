package surface

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/audiolibrelab/vizcapture/internal/config"
)

// FileHost treats an image file that another process keeps re-rendering as the
// surface. The surface id is the file path. A sibling "<path>.txt" file, when
// present, is exposed as the surface text.
type FileHost struct{}

func NewFileHost() *FileHost { return &FileHost{} }

func (h *FileHost) Name() string  { return config.HostFile }
func (h *FileHost) Close() error { return nil }

// Snapshot decodes the current contents of the file.
func (h *FileHost) Snapshot(ctx context.Context, id string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Clean(id))
	if err != nil {
		return nil, fmt.Errorf("failed to open surface file: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode surface file %s: %w", id, err)
	}
	return img, nil
}

// Text returns the contents of the sidecar text file, if any.
func (h *FileHost) Text(ctx context.Context, id string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(id) + ".txt")
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(string(data)), nil
}

// Layout is not available for image files.
func (h *FileHost) Layout(ctx context.Context, id string) (Layout, error) {
	return Layout{}, fmt.Errorf("file surfaces have no layout")
}
