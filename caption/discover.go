package caption

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// imageExtensions is the set of recognized image file extensions
// (lowercase; matching is case-insensitive).
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
}

// IsImageFile reports whether the path has a recognized image extension.
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// DiscoverImages lists the image files in a folder, sorted by name.
// When the folder contains an images/ subdirectory the images are taken from
// there instead (dataset layout); otherwise the folder itself is scanned.
// Subdirectories are not descended into.
func DiscoverImages(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("folder not found: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a folder: %s", dir)
	}

	root := dir
	if sub, err := os.Stat(filepath.Join(dir, "images")); err == nil && sub.IsDir() {
		root = filepath.Join(dir, "images")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading folder: %w", err)
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if IsImageFile(entry.Name()) {
			images = append(images, filepath.Join(root, entry.Name()))
		}
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("no image files found in %s", dir)
	}

	sort.Strings(images)
	return images, nil
}

// ContextSource selects where the per-image user context comes from.
type ContextSource string

const (
	// ContextFolder uses the input folder's name.
	ContextFolder ContextSource = "folder"
	// ContextFilename uses the image file's stem.
	ContextFilename ContextSource = "filename"
	// ContextManual uses a caller-provided string.
	ContextManual ContextSource = "manual"
)

// ParseContextSource validates a context source string.
func ParseContextSource(s string) (ContextSource, error) {
	switch ContextSource(s) {
	case ContextFolder, ContextFilename, ContextManual:
		return ContextSource(s), nil
	default:
		return "", fmt.Errorf("invalid context source %q (want folder, filename, or manual)", s)
	}
}

// UserContextFor resolves the user context for one image. folder is the
// input folder (for single-image runs, the image's parent), manual is the
// caller-provided context string.
func UserContextFor(source ContextSource, folder, imagePath, manual string) string {
	switch source {
	case ContextFilename:
		return ImageStem(imagePath)
	case ContextManual:
		return manual
	default:
		return filepath.Base(folder)
	}
}

// ImageStem returns the image filename without its extension.
func ImageStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
