package infrastructure

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"waflow/internal/entities"
)

// MediaLibrary serves uploaded assets from a single directory.
type MediaLibrary struct {
	dir string
}

func NewMediaLibrary(dir string) *MediaLibrary {
	return &MediaLibrary{dir: dir}
}

// Locate returns the local path of fileName. Names that would escape the
// media directory are rejected.
func (m *MediaLibrary) Locate(fileName string) (string, error) {
	name := strings.TrimSpace(fileName)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid media name %q", entities.ErrConfigurationInvalid, fileName)
	}

	path := filepath.Join(m.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: media %s not found", entities.ErrConfigurationInvalid, name)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: media %s is a directory", entities.ErrConfigurationInvalid, name)
	}
	return path, nil
}
